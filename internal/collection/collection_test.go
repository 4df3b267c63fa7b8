package collection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type change struct {
	kind ChangeType
	id   string
	item Item
}

func record(o *Observable) *[]change {
	var changes []change
	o.AddListener(func(kind ChangeType, id string, item Item) {
		changes = append(changes, change{kind, id, item})
	})
	return &changes
}

func TestYAML_LoadDiffs(t *testing.T) {
	y := NewYAML("yaml", zap.NewNop())
	changes := record(&y.Observable)

	y.Load([]Item{
		{"id": "a", "value_template": "{{ 1 }}"},
		{"id": "b", "value_template": "{{ 2 }}"},
	})
	require.Len(t, *changes, 2)
	assert.Equal(t, ChangeAdded, (*changes)[0].kind)
	assert.Equal(t, "a", (*changes)[0].id)
	assert.Equal(t, "b", (*changes)[1].id)

	*changes = nil
	y.Load([]Item{
		{"id": "b", "value_template": "{{ 3 }}"},
		{"id": "c", "value_template": "{{ 4 }}"},
	})

	assert.Equal(t, []change{
		{ChangeRemoved, "a", Item{"id": "a", "value_template": "{{ 1 }}"}},
		{ChangeUpdated, "b", Item{"id": "b", "value_template": "{{ 3 }}"}},
		{ChangeAdded, "c", Item{"id": "c", "value_template": "{{ 4 }}"}},
	}, *changes)

	// Identical reload is silent.
	*changes = nil
	y.Load([]Item{
		{"id": "b", "value_template": "{{ 3 }}"},
		{"id": "c", "value_template": "{{ 4 }}"},
	})
	assert.Empty(t, *changes)
}

func TestYAML_SkipsInvalidItems(t *testing.T) {
	y := NewYAML("yaml", zap.NewNop())
	y.Load([]Item{{"value_template": "x"}, {"id": "a"}, {"id": "a", "other": true}})

	items := y.List()
	require.Len(t, items, 1)
	assert.Equal(t, Item{"id": "a"}, items[0])
}

type testProcessor struct{}

func (testProcessor) ProcessCreate(data Item) (Item, error) {
	if _, ok := data["name"]; !ok {
		return nil, errors.New("name is required")
	}
	return data, nil
}

func (testProcessor) ProcessUpdate(current, update Item) (Item, error) {
	out := current.Clone()
	for k, v := range update {
		out[k] = v
	}
	return out, nil
}

func (testProcessor) SuggestedID(data Item) string {
	name, _ := data["name"].(string)
	return name
}

func newTestStorage(t *testing.T) (*Storage, *FileStore) {
	t.Helper()
	store := NewFileStore(t.TempDir(), "test.items")
	return NewStorage("storage", store, testProcessor{}, zap.NewNop()), store
}

func TestStorage_CreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStorage(t)
	changes := record(&s.Observable)

	item, err := s.Create(ctx, Item{"name": "Front Door"})
	require.NoError(t, err)
	assert.Equal(t, "front_door", item.ID())

	second, err := s.Create(ctx, Item{"name": "Front door"})
	require.NoError(t, err)
	assert.Equal(t, "front_door_2", second.ID())

	updated, err := s.Update(ctx, "front_door", Item{"icon": "mdi:door"})
	require.NoError(t, err)
	assert.Equal(t, "Front Door", updated["name"])
	assert.Equal(t, "mdi:door", updated["icon"])

	require.NoError(t, s.Delete(ctx, "front_door_2"))

	assert.Equal(t, []ChangeType{ChangeAdded, ChangeAdded, ChangeUpdated, ChangeRemoved},
		[]ChangeType{(*changes)[0].kind, (*changes)[1].kind, (*changes)[2].kind, (*changes)[3].kind})

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "front_door", stored[0].ID())
	assert.Equal(t, "mdi:door", stored[0]["icon"])
}

func TestStorage_Errors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)

	_, err := s.Create(ctx, Item{})
	assert.EqualError(t, err, "name is required")
	assert.Empty(t, s.List())

	_, err = s.Update(ctx, "missing", Item{})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)

	_, err = s.Create(ctx, Item{"name": "a"})
	require.NoError(t, err)
	_, err = s.Update(ctx, "a", Item{"id": "b"})
	assert.ErrorIs(t, err, ErrInvalid)
	item, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", item.ID())
}

func TestStorage_Load(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStorage(t)

	// Missing file is an empty collection.
	require.NoError(t, s.Load(ctx))
	assert.Empty(t, s.List())

	require.NoError(t, store.Save(ctx, []Item{{"id": "x", "name": "X"}, {"name": "no id"}}))

	s2 := NewStorage("storage", store, testProcessor{}, zap.NewNop())
	changes := record(&s2.Observable)
	require.NoError(t, s2.Load(ctx))

	require.Len(t, *changes, 1)
	assert.Equal(t, ChangeAdded, (*changes)[0].kind)
	assert.Equal(t, "x", (*changes)[0].id)
}

func TestFileStore_Format(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, "template.binary_sensor")
	assert.Equal(t, filepath.Join(dir, ".storage", "template.binary_sensor"), store.Path())

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, nil))
	contents, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"key":"template.binary_sensor","data":{"items":[]}}`, string(contents))

	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"version":9,"data":{"items":[]}}`), 0o600))
	_, err = store.Load(ctx)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(store.Path(), []byte(`not json`), 0o600))
	_, err = store.Load(ctx)
	assert.Error(t, err)
}

type fakeEntity struct {
	id      string
	started bool
	stopped bool
	removed bool
	updates []Item
}

func (e *fakeEntity) EntityID() string { return e.id }
func (e *fakeEntity) Start()           { e.started = true }
func (e *fakeEntity) Stop()            { e.stopped = true }
func (e *fakeEntity) Remove()          { e.removed = true }
func (e *fakeEntity) Update(item Item) error {
	e.updates = append(e.updates, item)
	return nil
}

func TestEntityComponent(t *testing.T) {
	component := NewEntityComponent(zap.NewNop())
	y := NewYAML("yaml", zap.NewNop())

	created := map[string]*fakeEntity{}
	component.Attach(&y.Observable, func(itemID string, item Item) (Entity, error) {
		if itemID == "bad" {
			return nil, errors.New("invalid")
		}
		e := &fakeEntity{id: "binary_sensor." + itemID}
		created[itemID] = e
		return e, nil
	})

	y.Load([]Item{{"id": "a"}, {"id": "b"}, {"id": "bad"}})
	require.Len(t, created, 2)
	assert.True(t, created["a"].started)
	assert.Equal(t, []string{"binary_sensor.a", "binary_sensor.b"}, component.EntityIDs())
	assert.True(t, component.InUse("binary_sensor.a"))

	id, ok := component.EntityID("yaml", "a")
	assert.True(t, ok)
	assert.Equal(t, "binary_sensor.a", id)

	y.Load([]Item{{"id": "a", "changed": true}})
	assert.Len(t, created["a"].updates, 1)
	assert.True(t, created["b"].removed)
	assert.False(t, component.InUse("binary_sensor.b"))

	component.StopAll()
	assert.True(t, created["a"].stopped)
	assert.False(t, created["a"].removed)
}
