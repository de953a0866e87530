// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package providers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// rejectingMeter refuses one instrument name.
type rejectingMeter struct {
	noop.Meter
	reject string
}

func (m rejectingMeter) Int64Counter(name string, opts ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	if name == m.reject {
		return noop.Int64Counter{}, errors.New("instrument rejected")
	}
	return m.Meter.Int64Counter(name, opts...)
}

func TestInt64CounterDisablesRejectedInstruments(t *testing.T) {
	for _, name := range []string{"describe.token.input", "describe.token.output", "describe.retry"} {
		meter := rejectingMeter{reject: name}
		assert.Nil(t, int64Counter(meter, name), name)
		assert.NotNil(t, int64Counter(meter, name+".ok"), name)
	}
}

func TestGeminiDescriberWithoutModel(t *testing.T) {
	g := NewGeminiDescriber(nil)
	assert.NotNil(t, g.counters.Input)
	assert.NotNil(t, g.counters.Output)
	assert.NotNil(t, g.counters.Retry)

	_, err := g.Describe(t.Context(), DescribeRequest{Image: []byte{1}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
