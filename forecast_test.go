/*
Copyright 2024 Corrit Electric Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package autopay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/corrit-electric/autopay/model"
)

func TestGetForecastSplitsBySuccessRate(t *testing.T) {
	engine, datasource, _, _ := newTestEngine(t)
	today := time.Now().Truncate(24 * time.Hour)
	mandate := activeTestMandate("man_1")

	datasource.On("GetUnresolvedAttempts", mock.Anything, mock.Anything, mock.Anything).
		Return([]model.DebitAttempt{
			{DebitID: "deb_1", MandateID: "man_1", Amount: 3000, ScheduledDate: today.AddDate(0, 0, 2), Status: model.DebitStatusPending},
			{DebitID: "deb_2", MandateID: "man_2", Amount: 2000, ScheduledDate: today.AddDate(0, 0, 2), Status: model.DebitStatusPending},
		}, nil)
	datasource.On("GetActiveMandates", mock.Anything).
		Return([]model.Mandate{*mandate}, nil)

	points, err := engine.GetForecast(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, points, 30)

	// 5000 at the default 0.85 rate: 4250 expected, 750 shortfall.
	day2 := points[2]
	assert.True(t, day2.Day.Equal(today.AddDate(0, 0, 2)))
	assert.Equal(t, int64(4250), day2.ExpectedSuccess)
	assert.Equal(t, int64(750), day2.ExpectedShortfall)
	assert.Equal(t, int64(0), day2.ExpectedFailedCount) // round(2 * 0.15) = 0
}

// Days with nothing scheduled still report how many active mandates cover
// them.
func TestGetForecastCountsCoverageOnEmptyDays(t *testing.T) {
	engine, datasource, _, _ := newTestEngine(t)
	mandate := activeTestMandate("man_1")

	datasource.On("GetUnresolvedAttempts", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, nil)
	datasource.On("GetActiveMandates", mock.Anything).
		Return([]model.Mandate{*mandate}, nil)

	points, err := engine.GetForecast(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, points, 7)
	for _, point := range points {
		assert.Equal(t, int64(1), point.ActiveMandateCount)
		assert.Equal(t, int64(0), point.ExpectedSuccess)
		assert.Equal(t, int64(0), point.ExpectedShortfall)
	}
}

// A mandate stops counting toward coverage the day after its validity
// ends.
func TestGetForecastCoverageRespectsValidity(t *testing.T) {
	engine, datasource, _, _ := newTestEngine(t)
	today := time.Now().Truncate(24 * time.Hour)
	mandate := activeTestMandate("man_1")
	mandate.ValidTo = today.AddDate(0, 0, 3)

	datasource.On("GetUnresolvedAttempts", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, nil)
	datasource.On("GetActiveMandates", mock.Anything).
		Return([]model.Mandate{*mandate}, nil)

	points, err := engine.GetForecast(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), points[3].ActiveMandateCount, "valid-to day is inclusive")
	assert.Equal(t, int64(0), points[4].ActiveMandateCount)
}

// The projection is a pure function of its snapshot: identical inputs give
// identical outputs.
func TestGetForecastDeterministic(t *testing.T) {
	engine, datasource, _, _ := newTestEngine(t)
	today := time.Now().Truncate(24 * time.Hour)

	attempts := []model.DebitAttempt{
		{DebitID: "deb_1", MandateID: "man_1", Amount: 333, ScheduledDate: today.AddDate(0, 0, 1), Status: model.DebitStatusPending},
	}
	datasource.On("GetUnresolvedAttempts", mock.Anything, mock.Anything, mock.Anything).Return(attempts, nil)
	datasource.On("GetActiveMandates", mock.Anything).Return([]model.Mandate{*activeTestMandate("man_1")}, nil)

	first, err := engine.GetForecast(context.Background(), 5)
	require.NoError(t, err)
	second, err := engine.GetForecast(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// 333 at 0.85: both buckets round half-up independently.
	assert.Equal(t, int64(283), first[1].ExpectedSuccess)
	assert.Equal(t, int64(50), first[1].ExpectedShortfall)
}

// Zero or negative windows fall back to the configured window length.
func TestGetForecastDefaultWindow(t *testing.T) {
	engine, datasource, _, _ := newTestEngine(t)

	datasource.On("GetUnresolvedAttempts", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	datasource.On("GetActiveMandates", mock.Anything).Return(nil, nil)

	points, err := engine.GetForecast(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, points, 30)
}

// Ten pending attempts of 500 each: the failed-count estimate rounds
// half-up, so round(10 * 0.15) = 2.
func TestGetForecastFailedCountRoundsHalfUp(t *testing.T) {
	engine, datasource, _, _ := newTestEngine(t)
	today := time.Now().Truncate(24 * time.Hour)
	mandate := activeTestMandate("man_1")

	attempts := make([]model.DebitAttempt, 10)
	for i := range attempts {
		attempts[i] = model.DebitAttempt{
			DebitID:       fmt.Sprintf("deb_%d", i),
			MandateID:     "man_1",
			Amount:        500,
			ScheduledDate: today.AddDate(0, 0, 5),
			Status:        model.DebitStatusPending,
		}
	}

	datasource.On("GetUnresolvedAttempts", mock.Anything, mock.Anything, mock.Anything).Return(attempts, nil)
	datasource.On("GetActiveMandates", mock.Anything).Return([]model.Mandate{*mandate}, nil)

	points, err := engine.GetForecast(context.Background(), 7)
	require.NoError(t, err)

	day5 := points[5]
	assert.Equal(t, int64(4250), day5.ExpectedSuccess)
	assert.Equal(t, int64(750), day5.ExpectedShortfall)
	assert.Equal(t, int64(2), day5.ExpectedFailedCount)
}
