// Package aggregate maintains the rolling, keyed state behind live dashboard trends.
//
// A Window keeps one Entry per key (compass direction, sensor id). Each fold appends
// the sample to a bounded FIFO history (10 by default), then derives:
//
//   - the trend: percent change of the sample against the mean of the history before
//     it; beyond +/-5% it is up or down with the rounded magnitude, otherwise stable.
//     The first sample of a key is always stable.
//   - the congestion level: the sample against fixed thresholds
//     (critical > 70, high > 50, medium > 30, else low).
//
// Totals merges periodic snapshot baselines with live updates. Every metric has a
// MergePolicy fixed by its Schema: Replace metrics (current speed, density) take the
// newest value of either origin, Accumulate metrics (vehicle and alert counts) add live
// deltas to the last snapshot and drop them when a newer snapshot lands.
//
// An Aggregator ties a Window and Totals to classified events.
package aggregate
