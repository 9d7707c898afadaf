package docstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	col := Collection("inst-1", "networks")
	assert.Equal(t, "savedData/inst-1/networks", col.Path())
	assert.Equal(t, "savedData/inst-1/networks/aa:bb", col.Doc("aa:bb").Path())
}

func TestBatch(t *testing.T) {
	wifi := Collection("inst", "networks")
	ble := Collection("inst", "devices")

	b := NewBatch().
		Merge(wifi.Doc("a"), Fields{"SSID": "home", UpdatedAtField: "client-time"}).
		Delete(ble.Doc("x")).
		Merge(wifi.Doc("b"), Fields{"SSID": "cafe"})

	require.Equal(t, 3, b.Len())
	assert.Equal(t, OpMerge, b.Ops()[0].Kind)
	assert.NotContains(t, b.Ops()[0].Fields, UpdatedAtField, "store owns updatedAt")
	assert.Equal(t, OpDelete, b.Ops()[1].Kind)
	assert.Equal(t, []CollectionRef{wifi, ble}, b.Collections())

	var nilBatch *Batch
	assert.Zero(t, nilBatch.Len())
}

func TestCodec(t *testing.T) {
	type rec struct {
		Name  string   `json:"name"`
		Level int      `json:"level"`
		Tags  []string `json:"tags"`
	}

	fields, err := Encode(rec{Name: "n", Level: -40, Tags: nil})
	require.NoError(t, err)
	assert.Equal(t, Fields{"name": "n", "level": float64(-40), "tags": nil}, fields)

	var out rec
	require.NoError(t, Decode(Document{ID: "1", Fields: fields}, &out))
	assert.Equal(t, rec{Name: "n", Level: -40}, out)

	err = Decode(Document{ID: "2", Fields: Fields{"level": "loud"}}, &out)
	assert.ErrorContains(t, err, "decode document 2")
}

func TestFeedKeepsNewest(t *testing.T) {
	f := NewFeed()
	first := &Snapshot{Documents: []Document{{ID: "1"}}}
	second := &Snapshot{Documents: []Document{{ID: "2"}}}

	require.True(t, f.Push(Event{Snapshot: first}))
	require.True(t, f.Push(Event{Snapshot: second}))

	ev := <-f.Events()
	assert.Same(t, second, ev.Snapshot)

	f.Close()
	f.Close()
	assert.False(t, f.Push(Event{Err: errors.New("late")}))
	_, open := <-f.Events()
	assert.False(t, open)
}
