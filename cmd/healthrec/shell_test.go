package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/healthrec/pkg/engine"
	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/store"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line    string
		want    []string
		wantErr bool
	}{
		{"", nil, false},
		{"   list  ", []string{"list"}, false},
		{"get 1", []string{"get", "1"}, false},
		{`create name="Jane Doe" staff=Grey`, []string{"create", "name=Jane Doe", "staff=Grey"}, false},
		{`search "seen by" `, []string{"search", "seen by"}, false},
		{`create name=""`, []string{"create", "name="}, false},
		{`create name=a\ b`, []string{"create", "name=a b"}, false},
		{`create history="said \"hi\""`, []string{"create", `history=said "hi"`}, false},
		{`create name="O'Brien"`, []string{"create", "name=O'Brien"}, false},
		{`search 'seen by'`, []string{"search", "seen by"}, false},
		{"create\tname=x", []string{"create", "name=x"}, false},
		{`create name="open`, nil, true},
		{`create name=O'Brien`, nil, true},
		{`get 1\`, nil, true},
		{`search a;b`, nil, true},
		{`search "a;b"`, []string{"search", "a;b"}, false},
		{`history 1 > out`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := splitArgs(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyFields(t *testing.T) {
	var p record.Payload
	err := applyFields(&p, []string{"name=Jane", "history=flu", "staff=Dr. Grey", "in=true", "appt=2027-01-02T03:04:05Z"})
	require.NoError(t, err)

	at := time.Date(2027, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, record.Payload{
		Name:            "Jane",
		History:         "flu",
		StaffName:       "Dr. Grey",
		InClinic:        true,
		NextAppointment: uint64(at.UnixNano()),
	}, p)

	assert.Error(t, applyFields(&p, []string{"name"}))
	assert.Error(t, applyFields(&p, []string{"age=3"}))
	assert.Error(t, applyFields(&p, []string{"in=maybe"}))
	assert.Error(t, applyFields(&p, []string{"appt=tomorrow"}))
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("1800000000000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1800000000000000000), got.UnixNano())

	got, err = parseTime("2027-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, 2027, got.Year())

	_, err = parseTime("next week")
	assert.Error(t, err)
}

func newTestShell(t *testing.T) (*shell, *bytes.Buffer, *store.Store) {
	t.Helper()
	e, err := engine.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	out := &bytes.Buffer{}
	sh := &shell{
		recs:  localRecords{e.Store()},
		out:   out,
		stats: e.Stats,
		info:  func() any { return e.Info() },
	}
	return sh, out, e.Store()
}

func TestShellCommands(t *testing.T) {
	sh, out, st := newTestShell(t)
	ctx := context.Background()

	run := func(line string) string {
		t.Helper()
		out.Reset()
		require.NoError(t, sh.execute(ctx, line), line)
		return out.String()
	}

	assert.Contains(t, run(`create name="Jane Doe" staff="Dr. Grey" history="penicillin allergy"`), "created patient 1")
	assert.Contains(t, run(`create name=Adam history="seen by Dr. Grey"`), "created patient 2")

	got := run("get 1")
	assert.Contains(t, got, "Jane Doe")
	assert.Contains(t, got, "Dr. Grey")

	run(`update 1 history="no allergies"`)
	rec, err := st.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "no allergies", rec.History)
	assert.Equal(t, "Jane Doe", rec.Name, "update keeps fields it was not given")
	assert.NotNil(t, rec.UpdatedAt)

	assert.Contains(t, run("list"), "2 patient(s)")
	assert.Contains(t, run("staff Grey"), "2 patient(s)")
	assert.Contains(t, run("search no allergies"), "1 patient(s)")

	sorted := run("sort")
	assert.Less(t, bytes.Index([]byte(sorted), []byte("Adam")), bytes.Index([]byte(sorted), []byte("Jane")))

	assert.Contains(t, run("page 1 1"), "1 patient(s)")
	assert.Contains(t, run("page 5 10"), "0 patient(s)")
	assert.Contains(t, run("page 18446744073709551615 1"), "1 patient(s)")

	run("presence 2 in")
	assert.Equal(t, "in clinic\n", run("presence 2"))
	assert.Contains(t, run("inclinic"), "Adam")

	run("appt 2 2027-01-02T03:04:05Z")
	rec, err = st.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(time.Date(2027, 1, 2, 3, 4, 5, 0, time.UTC).UnixNano()), rec.NextAppointment)

	history := run("history 2")
	assert.Contains(t, history, record.ChangeUpdate)
	assert.Contains(t, history, record.ChangeCreation)
	assert.Contains(t, run("history 42"), "(no history)")

	assert.Contains(t, run("delete 2"), "deleted patient 2")
	assert.Contains(t, run(".stats"), "Store Statistics:")
	assert.Contains(t, run(".info"), `"store_id"`)
	assert.Contains(t, run(".help"), "presence ID [in|out]")
	assert.Empty(t, run("   "))
}

func TestShellErrors(t *testing.T) {
	sh, _, _ := newTestShell(t)
	ctx := context.Background()

	tests := []struct {
		line string
		want error
	}{
		{"get 7", store.ErrNotFound},
		{"delete 7", store.ErrNotFound},
		{"presence 7", store.ErrNotFound},
		{"update 7 name=x", store.ErrNotFound},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, sh.execute(ctx, tt.line), tt.want, tt.line)
	}

	for _, line := range []string{
		"get", "get x", "page 1", "page -1 0", "presence 1 maybe",
		"appt 1", "search", "frobnicate", `create name="`,
	} {
		assert.Error(t, sh.execute(ctx, line), line)
	}

	assert.ErrorIs(t, sh.execute(ctx, ".exit"), errExit)

	remote := &shell{recs: sh.recs, out: &bytes.Buffer{}}
	assert.Error(t, remote.execute(ctx, ".stats"))
	assert.Error(t, remote.execute(ctx, ".info"))
}
