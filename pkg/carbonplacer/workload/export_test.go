package workload

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteParsesBack(t *testing.T) {
	workloads, err := NewSimulator(7).Generate(20, now, 4*time.Hour)
	require.NoError(t, err)

	for _, format := range []Format{FormatCSV, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, format, workloads))

			res, err := Parse(&buf, format, now.Add(time.Hour))
			require.NoError(t, err)
			require.Empty(t, res.Errors)
			require.Len(t, res.Workloads, len(workloads))

			for i, got := range res.Workloads {
				want := workloads[i]
				assert.Equal(t, want.ID(), got.ID())
				assert.Equal(t, want.CPU(), got.CPU())
				assert.Equal(t, want.Memory(), got.Memory())
				assert.Equal(t, want.Duration(), got.Duration())
				assert.Equal(t, want.Priority(), got.Priority())
				assert.True(t, want.ArrivalTime().Equal(got.ArrivalTime()))
				assert.True(t, want.Deadline().Equal(got.Deadline()))
			}
		})
	}
}

func TestWriteCSVHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, nil))
	assert.Equal(t, "id,cpu,memory,duration,priority,arrival_time,deadline", strings.TrimSpace(buf.String()))
}

func TestWriteUnsupported(t *testing.T) {
	err := Write(&bytes.Buffer{}, Format("xml"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
