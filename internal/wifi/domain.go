package wifi

import (
	"scanmap/internal/docstore"
	"scanmap/internal/sync/service"
	"scanmap/internal/wifi/models"
)

// Domain describes how networks are stored remotely.
func Domain() service.Domain[string, models.Record] {
	return service.Domain[string, models.Record]{
		Collection: models.Collection,
		Key:        func(r models.Record) string { return r.BSSID },
		Encode: func(r models.Record) (docstore.Fields, error) {
			return docstore.Encode(r)
		},
		Decode: func(d docstore.Document) (models.Record, error) {
			var r models.Record
			if err := docstore.Decode(d, &r); err != nil {
				return models.Record{}, err
			}
			r.BSSID = d.ID
			r.UpdatedAt = d.UpdatedAt
			return r, nil
		},
	}
}
