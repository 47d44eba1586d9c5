package enums

// ReferenceKind tells whether a checkout reference covers one purchase or a batch.
type ReferenceKind string

const (
	ReferenceKindSingle ReferenceKind = "single"
	ReferenceKindBatch  ReferenceKind = "batch"
)

var referenceKinds = []ReferenceKind{ReferenceKindSingle, ReferenceKindBatch}

func (k ReferenceKind) IsValid() bool {
	_, err := ParseReferenceKind(string(k))
	return err == nil
}

func ParseReferenceKind(raw string) (ReferenceKind, error) {
	return parse("reference kind", raw, referenceKinds)
}
