package sqlstore

import (
	"strconv"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// keyedHandlers builds repository handlers for records whose primary key is
// the "id" column rendered by key. assign, when set, fills the key of new
// records from a generated uuid.
func keyedHandlers[T any](newRecord func() T, key func(T) string, assign func(T, uuid.UUID)) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord:     newRecord,
		GetIdentifier: func() string { return "id" },
		GetIdentifierValue: func(record T) string {
			return strings.TrimSpace(key(record))
		},
		GetID: func(record T) uuid.UUID {
			id, err := uuid.Parse(strings.TrimSpace(key(record)))
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record T, id uuid.UUID) {
			if assign != nil {
				assign(record, id)
			}
		},
	}
}

// Users use an autoincrement integer the database assigns.
func userHandlers() repository.ModelHandlers[*userRecord] {
	return keyedHandlers(
		func() *userRecord { return &userRecord{} },
		func(r *userRecord) string {
			if r == nil || r.ID == 0 {
				return ""
			}
			return strconv.FormatInt(r.ID, 10)
		},
		nil,
	)
}

func credentialHandlers() repository.ModelHandlers[*credentialRecord] {
	return keyedHandlers(
		func() *credentialRecord { return &credentialRecord{} },
		func(r *credentialRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *credentialRecord, id uuid.UUID) {
			if r != nil {
				r.ID = id.String()
			}
		},
	)
}

// Items keep the marketplace id as primary key and never take a uuid.
func itemHandlers() repository.ModelHandlers[*itemRecord] {
	return keyedHandlers(
		func() *itemRecord { return &itemRecord{} },
		func(r *itemRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		nil,
	)
}
