package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// fakeTable is an in-memory table with ETag semantics.
type fakeTable struct {
	mu      sync.Mutex
	rows    map[string]map[string]any
	version map[string]int
	seq     int

	submits int
	// beforeSubmit runs before a transaction is checked, without the lock.
	beforeSubmit func(attempt int)
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string]any{}, version: map[string]int{}}
}

func rowID(pk, rk string) string { return pk + "\x00" + rk }

func respErr(code int, errCode string) error {
	return &azcore.ResponseError{StatusCode: code, ErrorCode: errCode}
}

func (f *fakeTable) etag(id string) azcore.ETag {
	return azcore.ETag(fmt.Sprintf(`W/"%d"`, f.version[id]))
}

func (f *fakeTable) bump(id string) {
	f.seq++
	f.version[id] = f.seq
}

func decodeKeys(entity []byte) (map[string]any, string, error) {
	var m map[string]any
	if err := json.Unmarshal(entity, &m); err != nil {
		return nil, "", err
	}
	pk, _ := m["PartitionKey"].(string)
	rk, _ := m["RowKey"].(string)
	delete(m, "odata.etag")
	return m, rowID(pk, rk), nil
}

func (f *fakeTable) ifMatch(id string, et *azcore.ETag) error {
	if _, ok := f.rows[id]; !ok {
		return respErr(http.StatusNotFound, "ResourceNotFound")
	}
	if et != nil && *et != azcore.ETagAny && *et != f.etag(id) {
		return respErr(http.StatusPreconditionFailed, "UpdateConditionNotSatisfied")
	}
	return nil
}

// put writes v for tests that seed the table directly.
func (f *fakeTable) put(v any) {
	data, _ := json.Marshal(v)
	m, id, _ := decodeKeys(data)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id] = m
	f.bump(id)
}

func (f *fakeTable) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	var partition string
	if opts != nil && opts.Filter != nil {
		raw := *opts.Filter
		if i := strings.Index(raw, "'"); i >= 0 {
			partition = strings.ReplaceAll(raw[i+1:len(raw)-1], "''", "'")
		}
	}
	f.mu.Lock()
	ids := make([]string, 0, len(f.rows))
	for id := range f.rows {
		if strings.HasPrefix(id, partition+"\x00") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	entities := make([][]byte, 0, len(ids))
	for _, id := range ids {
		m := make(map[string]any, len(f.rows[id])+1)
		for k, v := range f.rows[id] {
			m[k] = v
		}
		m["odata.etag"] = string(f.etag(id))
		data, _ := json.Marshal(m)
		entities = append(entities, data)
	}
	f.mu.Unlock()

	fetched := false
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return !fetched },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			fetched = true
			return aztables.ListEntitiesResponse{Entities: entities}, nil
		},
	})
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := rowID(pk, rk)
	m, ok := f.rows[id]
	if !ok {
		return aztables.GetEntityResponse{}, respErr(http.StatusNotFound, "ResourceNotFound")
	}
	data, _ := json.Marshal(m)
	return aztables.GetEntityResponse{ETag: f.etag(id), Value: data}, nil
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	m, id, err := decodeKeys(entity)
	if err != nil {
		return aztables.AddEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; ok {
		return aztables.AddEntityResponse{}, respErr(http.StatusConflict, "EntityAlreadyExists")
	}
	f.rows[id] = m
	f.bump(id)
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) UpsertEntity(ctx context.Context, entity []byte, _ *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	m, id, err := decodeKeys(entity)
	if err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id] = m
	f.bump(id)
	return aztables.UpsertEntityResponse{}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	m, id, err := decodeKeys(entity)
	if err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var et *azcore.ETag
	merge := false
	if opts != nil {
		et = opts.IfMatch
		merge = opts.UpdateMode == aztables.UpdateModeMerge
	}
	if err := f.ifMatch(id, et); err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	f.apply(id, m, merge)
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, pk, rk string, opts *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := rowID(pk, rk)
	var et *azcore.ETag
	if opts != nil {
		et = opts.IfMatch
	}
	if err := f.ifMatch(id, et); err != nil {
		return aztables.DeleteEntityResponse{}, err
	}
	delete(f.rows, id)
	return aztables.DeleteEntityResponse{}, nil
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, _ *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.mu.Lock()
	f.submits++
	attempt := f.submits
	hook := f.beforeSubmit
	f.mu.Unlock()
	if hook != nil {
		hook(attempt)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	type op struct {
		id string
		m  map[string]any
	}
	ops := make([]op, 0, len(actions))
	for _, a := range actions {
		m, id, err := decodeKeys(a.Entity)
		if err != nil {
			return aztables.TransactionResponse{}, err
		}
		if err := f.ifMatch(id, a.IfMatch); err != nil {
			return aztables.TransactionResponse{}, err
		}
		ops = append(ops, op{id: id, m: m})
	}
	for _, o := range ops {
		f.apply(o.id, o.m, true)
	}
	return aztables.TransactionResponse{}, nil
}

func (f *fakeTable) apply(id string, m map[string]any, merge bool) {
	if merge {
		cur := f.rows[id]
		for k, v := range m {
			cur[k] = v
		}
	} else {
		f.rows[id] = m
	}
	f.bump(id)
}
