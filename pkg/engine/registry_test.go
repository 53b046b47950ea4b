package engine

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeFactory(name string, conflicts ...string) Factory {
	return func(DriverEnv) (Driver, error) {
		d := newFakeDriver(name, KindPath)
		d.conflicts = conflicts
		return d, nil
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("POSIX", fakeFactory("POSIX")))
	require.NoError(t, r.Register("Action", fakeFactory("Action")))

	assert.Error(t, r.Register("POSIX", fakeFactory("POSIX")))
	assert.Error(t, r.Register("", fakeFactory("x")))
	assert.Error(t, r.Register("nil", nil))
	assert.Equal(t, []string{"Action", "POSIX"}, r.Names())
}

func TestRegistryLoad(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("Boom", func(DriverEnv) (Driver, error) {
		panic("boom")
	}))
	require.NoError(t, r.Register("POSIX", fakeFactory("POSIX")))
	require.NoError(t, r.Register("Missing", func(DriverEnv) (Driver, error) {
		return nil, ErrDriverUnavailable
	}))
	require.NoError(t, r.Register("Broken", func(DriverEnv) (Driver, error) {
		return nil, errors.New("cannot start")
	}))
	require.NoError(t, r.Register("Action", fakeFactory("Action")))

	loaded := r.Load([]string{"Boom", "POSIX", "Missing", "Broken", "Unknown", "Action"}, DriverEnv{Logger: zerolog.Nop()}, zerolog.Nop())
	assert.Equal(t, []string{"POSIX", "Action"}, driverNames(loaded))
}

func TestRegistryLoadResolvesConflicts(t *testing.T) {
	tests := []struct {
		name      string
		factories map[string]Factory
		order     []string
		want      []string
	}{
		{
			name: "later driver supersedes earlier",
			factories: map[string]Factory{
				"YUM":  fakeFactory("YUM"),
				"DNF":  fakeFactory("DNF", "YUM"),
				"APT":  fakeFactory("APT"),
				"Self": fakeFactory("Self", "Self"),
			},
			order: []string{"YUM", "APT", "DNF", "Self"},
			want:  []string{"APT", "DNF", "Self"},
		},
		{
			name: "dropped driver conflicts are ignored",
			factories: map[string]Factory{
				"A": fakeFactory("A", "B"),
				"B": fakeFactory("B", "C"),
				"C": fakeFactory("C"),
			},
			order: []string{"A", "B", "C"},
			want:  []string{"A", "C"},
		},
		{
			name: "conflict with an unloaded driver",
			factories: map[string]Factory{
				"A": fakeFactory("A", "Z"),
			},
			order: []string{"A"},
			want:  []string{"A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for name, f := range tt.factories {
				require.NoError(t, r.Register(name, f))
			}
			loaded := r.Load(tt.order, DriverEnv{Logger: zerolog.Nop()}, zerolog.Nop())
			assert.Equal(t, tt.want, driverNames(loaded))
		})
	}
}
