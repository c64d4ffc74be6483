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
	"time"

	"github.com/corrit-electric/autopay/config"
	"github.com/corrit-electric/autopay/model"
)

// GetForecast projects expected collections for each day of the rolling
// window, starting today. Unresolved attempts scheduled on a day are split
// into an expected-success and an expected-shortfall bucket by the
// historical success rate; active mandate coverage is reported for every
// day, including days with nothing scheduled. The projection is a pure
// function of the snapshot it reads, so two calls over the same data give
// the same answer.
func (a *Autopay) GetForecast(ctx context.Context, windowDays int) ([]model.ForecastPoint, error) {
	ctx, span := tracer.Start(ctx, "Projecting collection forecast")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if windowDays <= 0 {
		windowDays = cfg.Forecast.WindowDays
	}
	rate := cfg.Forecast.SuccessRate

	start := time.Now().Truncate(24 * time.Hour)
	end := start.AddDate(0, 0, windowDays)

	attempts, err := a.datasource.GetUnresolvedAttempts(ctx, start, end)
	if err != nil {
		return nil, err
	}
	active, err := a.datasource.GetActiveMandates(ctx)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		amount int64
		count  int64
	}
	scheduled := make(map[time.Time]bucket)
	for _, attempt := range attempts {
		day := attempt.ScheduledDate.Truncate(24 * time.Hour)
		b := scheduled[day]
		b.amount += attempt.Amount
		b.count++
		scheduled[day] = b
	}

	points := make([]model.ForecastPoint, 0, windowDays)
	for i := 0; i < windowDays; i++ {
		day := start.AddDate(0, 0, i)

		var covering int64
		for j := range active {
			if active[j].ValidOn(day) {
				covering++
			}
		}

		b := scheduled[day]
		success, shortfall := model.SplitByRate(b.amount, rate)
		points = append(points, model.ForecastPoint{
			Day:                 day,
			ExpectedSuccess:     success,
			ExpectedShortfall:   shortfall,
			ActiveMandateCount:  covering,
			ExpectedFailedCount: model.ExpectedFailures(b.count, rate),
		})
	}
	return points, nil
}
