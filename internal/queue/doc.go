// Package queue prefetches synthesis requests into the audio cache with a
// bounded worker pool, so that lesson phrases play without waiting on a
// provider.
package queue
