package barcode

import (
	"scanmap/internal/barcode/models"
	"scanmap/internal/docstore"
	"scanmap/internal/sync/service"
)

// Domain describes how barcodes are stored remotely.
func Domain() service.Domain[string, models.Barcode] {
	return service.Domain[string, models.Barcode]{
		Collection: models.Collection,
		Key:        func(b models.Barcode) string { return b.RawValue },
		Encode: func(b models.Barcode) (docstore.Fields, error) {
			return docstore.Encode(b)
		},
		Decode: func(d docstore.Document) (models.Barcode, error) {
			var b models.Barcode
			if err := docstore.Decode(d, &b); err != nil {
				return models.Barcode{}, err
			}
			b.ID = d.ID
			b.UpdatedAt = d.UpdatedAt
			return b, nil
		},
	}
}
