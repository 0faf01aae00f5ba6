package store

import (
	"sort"

	"github.com/balkashynov/proctor/internal/models"
)

// Table is a whole-table snapshot of the sessions store, tagged with the
// backend revision it was read at.
type Table struct {
	Revision int64
	Sessions map[string]*models.SessionRecord

	// Recovered is set when the stored bytes were unreadable and the
	// table was replaced by an empty one.
	Recovered bool
}

// NewTable creates an empty table at revision 0
func NewTable() *Table {
	return &Table{Sessions: map[string]*models.SessionRecord{}}
}

// Get returns a copy of the record for key
func (t *Table) Get(key string) (*models.SessionRecord, bool) {
	rec, ok := t.Sessions[key]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Len returns the number of records
func (t *Table) Len() int {
	return len(t.Sessions)
}

// Records returns copies of every record ordered by StartTime, then by key
func (t *Table) Records() []*models.SessionRecord {
	out := make([]*models.SessionRecord, 0, len(t.Sessions))
	for _, rec := range t.Sessions {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].StudentKey < out[j].StudentKey
	})
	return out
}

// Clone deep-copies the table
func (t *Table) Clone() *Table {
	c := &Table{Revision: t.Revision, Recovered: t.Recovered, Sessions: make(map[string]*models.SessionRecord, len(t.Sessions))}
	for k, rec := range t.Sessions {
		c.Sessions[k] = rec.Clone()
	}
	return c
}
