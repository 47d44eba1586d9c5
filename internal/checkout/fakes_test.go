package checkout

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lumina-photos/lumina-backend/internal/pricing"
	"github.com/lumina-photos/lumina-backend/internal/purchases"
	"github.com/lumina-photos/lumina-backend/internal/reference"
	"github.com/lumina-photos/lumina-backend/internal/revenue"
	pkgcheckout "github.com/lumina-photos/lumina-backend/pkg/checkout"
	"github.com/lumina-photos/lumina-backend/pkg/config"
	"github.com/lumina-photos/lumina-backend/pkg/db/models"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/mercadopago"
	"github.com/lumina-photos/lumina-backend/pkg/outbox"
)

const validCPF = "529.982.247-25"

// fakeTx serializes transactions and undoes ledger and outbox writes when fn
// fails, the way a rolled back database transaction would.
type fakeTx struct {
	mu       sync.Mutex
	ledger   *fakeLedger
	outbox   *fakeOutbox
	recorder *fakeRecorder
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, order := f.ledger.snapshot()
	events := f.outbox.snapshot()
	shares := f.recorder.snapshot()
	if err := fn(nil); err != nil {
		f.ledger.restore(rows, order)
		f.outbox.restore(events)
		f.recorder.restore(shares)
		return err
	}
	return nil
}

type fakeLedger struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*models.Purchase
	order     []uuid.UUID
	created   int
	tagged    int
	createErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: map[uuid.UUID]*models.Purchase{}}
}

func (f *fakeLedger) WithTx(*gorm.DB) purchases.Repository { return f }

func (f *fakeLedger) CreatePending(ctx context.Context, rows []models.Purchase) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	ids := make([]uuid.UUID, len(rows))
	for i := range rows {
		row := rows[i]
		row.ID = uuid.New()
		row.Status = enums.PurchaseStatusPending
		row.CreatedAt = time.Now().UTC()
		f.rows[row.ID] = &row
		f.order = append(f.order, row.ID)
		ids[i] = row.ID
	}
	f.created += len(rows)
	return ids, nil
}

func (f *fakeLedger) TagWithReference(ctx context.Context, ids []uuid.UUID, ref reference.Reference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagged++
	wire := ref.String()
	for _, id := range ids {
		row, ok := f.rows[id]
		if !ok {
			continue
		}
		row.GatewayReference = &wire
		kind := ref.Kind
		row.ReferenceKind = &kind
		row.BatchSize = len(ids)
		if ref.BatchTag != "" {
			tag := ref.BatchTag
			row.BatchTag = &tag
		}
		if ref.GatewayPaymentID != "" {
			gid := ref.GatewayPaymentID
			row.GatewayPaymentID = &gid
		}
	}
	return nil
}

func (f *fakeLedger) UpdateStatus(ctx context.Context, ids []uuid.UUID, status enums.PurchaseStatus) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var moved []uuid.UUID
	for _, id := range ids {
		row, ok := f.rows[id]
		if !ok || row.Status != enums.PurchaseStatusPending {
			continue
		}
		row.Status = status
		moved = append(moved, id)
	}
	return moved, nil
}

func (f *fakeLedger) ResolveByReference(ctx context.Context, ref reference.Reference, gatewayPaymentID string) ([]models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gatewayPaymentID == "" {
		gatewayPaymentID = ref.GatewayPaymentID
	}
	match := func(pred func(*models.Purchase) bool) []models.Purchase {
		var out []models.Purchase
		for _, id := range f.order {
			if row, ok := f.rows[id]; ok && pred(row) {
				out = append(out, *row)
			}
		}
		return out
	}
	if ref.IsBatch() {
		if rows := match(func(p *models.Purchase) bool { return p.BatchTag != nil && *p.BatchTag == ref.BatchTag }); len(rows) > 0 {
			return rows, nil
		}
	}
	if gatewayPaymentID != "" {
		if rows := match(func(p *models.Purchase) bool { return p.GatewayPaymentID != nil && *p.GatewayPaymentID == gatewayPaymentID }); len(rows) > 0 {
			return rows, nil
		}
	}
	wanted := map[string]bool{}
	for _, id := range ref.PurchaseIDs {
		wanted[id] = true
	}
	return match(func(p *models.Purchase) bool { return wanted[p.ID.String()] }), nil
}

func (f *fakeLedger) DeleteBatch(ctx context.Context, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if row, ok := f.rows[id]; ok && row.Status == enums.PurchaseStatusPending {
			delete(f.rows, id)
		}
	}
	return nil
}

func (f *fakeLedger) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Purchase
	for _, id := range ids {
		if row, ok := f.rows[id]; ok {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListPendingPaymentIDs(context.Context, time.Time, time.Time, int) ([]string, error) {
	return nil, nil
}

func (f *fakeLedger) ListUntaggedPendingReferences(context.Context, time.Time, time.Time, int) ([]string, error) {
	return nil, nil
}

func (f *fakeLedger) snapshot() (map[uuid.UUID]models.Purchase, []uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make(map[uuid.UUID]models.Purchase, len(f.rows))
	for id, row := range f.rows {
		rows[id] = *row
	}
	return rows, slices.Clone(f.order)
}

func (f *fakeLedger) restore(rows map[uuid.UUID]models.Purchase, order []uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = make(map[uuid.UUID]*models.Purchase, len(rows))
	for id, row := range rows {
		row := row
		f.rows[id] = &row
	}
	f.order = order
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeLedger) get(id uuid.UUID) models.Purchase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

// seed inserts rows as if an earlier process created them.
func (f *fakeLedger) seed(rows ...models.Purchase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range rows {
		row := rows[i]
		f.rows[row.ID] = &row
		f.order = append(f.order, row.ID)
	}
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []mercadopago.ChargeRequest
	// createResults are consumed in order; the last one repeats.
	createResults []gatewayResult
	payments      map[string]*mercadopago.Payment
	searches      map[string][]mercadopago.Payment
	getCalls      int
}

type gatewayResult struct {
	payment *mercadopago.Payment
	err     error
}

func newFakeGateway(results ...gatewayResult) *fakeGateway {
	return &fakeGateway{
		createResults: results,
		payments:      map[string]*mercadopago.Payment{},
		searches:      map[string][]mercadopago.Payment{},
	}
}

func (f *fakeGateway) CreatePayment(ctx context.Context, req mercadopago.ChargeRequest) (*mercadopago.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.createResults) == 0 {
		return nil, fmt.Errorf("no gateway result configured")
	}
	res := f.createResults[0]
	if len(f.createResults) > 1 {
		f.createResults = f.createResults[1:]
	}
	if res.err != nil {
		return nil, res.err
	}
	payment := *res.payment
	payment.ExternalReference = req.ExternalReference
	stored := payment
	f.payments[payment.ID] = &stored
	return &payment, nil
}

func (f *fakeGateway) GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	payment, ok := f.payments[paymentID]
	if !ok {
		return nil, &mercadopago.GatewayError{HTTPStatus: 404, Message: "not found"}
	}
	out := *payment
	return &out, nil
}

func (f *fakeGateway) SearchByExternalReference(ctx context.Context, externalReference string) ([]mercadopago.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches[externalReference], nil
}

func (f *fakeGateway) setStatus(paymentID, status, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[paymentID].Status = status
	f.payments[paymentID].StatusDetail = detail
}

func (f *fakeGateway) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeCatalog struct {
	photos map[string]models.Photo
}

func (f *fakeCatalog) LookupPhotos(ctx context.Context, ids []string) (map[string]models.Photo, error) {
	out := map[string]models.Photo{}
	for _, id := range ids {
		if photo, ok := f.photos[id]; ok {
			out[id] = photo
		}
	}
	return out, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	shares map[uuid.UUID]int
	fail   map[uuid.UUID]error
	calc   revenue.Calculator
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		shares: map[uuid.UUID]int{},
		fail:   map[uuid.UUID]error{},
		calc:   revenue.NewCalculator(decimal.NewFromInt(9)),
	}
}

func (f *fakeRecorder) RecordIfAbsent(ctx context.Context, tx *gorm.DB, purchase models.Purchase) (revenue.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := revenue.Result{PurchaseID: purchase.ID}
	if err := f.fail[purchase.ID]; err != nil {
		return result, err
	}
	if f.shares[purchase.ID] > 0 {
		return result, nil
	}
	f.shares[purchase.ID]++
	split := f.calc.Compute(purchase.NetAmount(), decimal.Zero)
	result.Created = true
	result.Share = &models.RevenueShare{
		PurchaseID:         purchase.ID,
		PlatformAmount:     split.PlatformAmount,
		OrganizationAmount: split.OrganizationAmount,
		PhotographerAmount: split.PhotographerAmount,
	}
	return result, nil
}

func (f *fakeRecorder) snapshot() map[uuid.UUID]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.shares)
}

func (f *fakeRecorder) restore(shares map[uuid.UUID]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shares = shares
}

func (f *fakeRecorder) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.shares {
		n += c
	}
	return n
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
	// fail maps aggregate ids to the error Emit returns for them.
	fail   map[uuid.UUID]error
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[event.AggregateID]; err != nil {
		return err
	}
	for _, existing := range f.events {
		if existing.EventType == event.EventType && existing.AggregateID == event.AggregateID {
			return nil
		}
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) snapshot() []outbox.DomainEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.events)
}

func (f *fakeOutbox) restore(events []outbox.DomainEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
}

func (f *fakeOutbox) countOf(eventType enums.OutboxEventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	svc      Service
	ledger   *fakeLedger
	gateway  *fakeGateway
	catalog  *fakeCatalog
	recorder *fakeRecorder
	outbox   *fakeOutbox
}

func newHarness(t *testing.T, gateway *fakeGateway) *harness {
	t.Helper()
	h := &harness{
		ledger:   newFakeLedger(),
		gateway:  gateway,
		catalog:  &fakeCatalog{photos: map[string]models.Photo{}},
		recorder: newFakeRecorder(),
		outbox:   &fakeOutbox{fail: map[uuid.UUID]error{}},
	}
	params := ServiceParams{
		Tx:               &fakeTx{ledger: h.ledger, outbox: h.outbox, recorder: h.recorder},
		Ledger:           h.ledger,
		Catalog:          h.catalog,
		Pricing:          pricing.NewEngine(decimal.RequireFromString("1.00")),
		Recorder:         h.recorder,
		Outbox:           h.outbox,
		Logger:           logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard}),
		Config:           config.CheckoutConfig{StatementDescriptor: "LUMINA FOTOS", PixExpiration: 30 * time.Minute},
		ChargeRetryDelay: -1,
	}
	if gateway != nil {
		params.Gateway = gateway
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

// addPhotos registers n photos at price and returns cart items for them.
func (h *harness) addPhotos(n int, price string) []CartItem {
	items := make([]CartItem, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("photo-%d-%s", len(h.catalog.photos), price)
		h.catalog.photos[id] = models.Photo{
			ID:             id,
			PhotographerID: "photographer-1",
			Price:          decimal.RequireFromString(price),
		}
		items[i] = CartItem{ID: id, Price: decimal.RequireFromString(price)}
	}
	return items
}

func beginInput(items []CartItem, discount bool) BeginInput {
	return BeginInput{
		BuyerID:  "buyer-1",
		Items:    items,
		Buyer:    pkgcheckout.Buyer{Name: "Ana", Surname: "Silva", Email: "ana@example.com", TaxID: validCPF},
		Discount: &DiscountClaim{Enabled: discount},
	}
}

func pendingPix(id string) gatewayResult {
	return gatewayResult{payment: &mercadopago.Payment{
		ID:           id,
		Status:       mercadopago.StatusPending,
		QRCode:       "00020126-pix-" + id,
		QRCodeBase64: "aW1hZ2U=",
	}}
}

func sortedStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	sort.Strings(out)
	return out
}
