package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validScenario() Scenario {
	return Scenario{
		Name:    "valid",
		Records: []RecordStep{{LSN: 100}, {LSN: 200}},
		Waiters: []WaiterStep{
			{Slot: 0, Target: 150, Expect: ExpectSatisfied},
		},
	}
}

func TestValidate_AcceptsWellFormed(t *testing.T) {
	sc := validScenario()
	assert.NoError(t, sc.Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Scenario)
	}{
		{"missing name", func(s *Scenario) { s.Name = "" }},
		{"no waiters", func(s *Scenario) { s.Waiters = nil }},
		{"zero record lsn", func(s *Scenario) { s.Records[0].LSN = 0 }},
		{"non-ascending records", func(s *Scenario) { s.Records[1].LSN = 100 }},
		{"negative slot", func(s *Scenario) { s.Waiters[0].Slot = -1 }},
		{"duplicate slot", func(s *Scenario) {
			s.Waiters = append(s.Waiters, WaiterStep{Slot: 0, Target: 150, Expect: ExpectSatisfied})
		}},
		{"zero target", func(s *Scenario) { s.Waiters[0].Target = 0 }},
		{"unknown expect", func(s *Scenario) { s.Waiters[0].Expect = "maybe" }},
		{"satisfied beyond last record", func(s *Scenario) { s.Waiters[0].Target = 900 }},
		{"timeout without budget", func(s *Scenario) {
			s.Waiters[0] = WaiterStep{Slot: 0, Target: 900, Expect: ExpectTimeout}
		}},
		{"timeout target already replayed", func(s *Scenario) {
			s.Waiters[0] = WaiterStep{Slot: 0, Target: 150, TimeoutMS: 10, Expect: ExpectTimeout}
		}},
		{"replay_ended without end_replay", func(s *Scenario) {
			s.Waiters[0] = WaiterStep{Slot: 0, Target: 900, Expect: ExpectReplayEnded}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := validScenario()
			tt.mutate(&sc)
			assert.Error(t, sc.Validate())
		})
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sc.yaml")
	content := `name: from-file
records:
  - lsn: 10
waiters:
  - slot: 0
    target: 10
    expect: satisfied
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", sc.Name)
	require.Len(t, sc.Records, 1)
	assert.Equal(t, uint64(10), sc.Records[0].LSN)
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nwaiters: []\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
