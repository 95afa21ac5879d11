// Package scheduler drives the daily order-generation pipeline. A
// DailyTrigger claims each calendar day through the store's run lock, runs
// the recurrence expander with bounded retries and hands the day's pending
// tasks to the route grouper.
package scheduler
