/*
Copyright 2024 The Orchest Authors.

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

package cra

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultMinBackoff = 200 * time.Millisecond
	defaultMaxBackoff = 2 * time.Second
	defaultMaxRetries = 3
)

// withRetry retries a transport-level Docker call using
// retryablehttp.DefaultBackoff's exponential-backoff policy (§5), the
// same curve retryablehttp.Client applies to its own HTTP round trips,
// making up to defaultMaxRetries retries after the first attempt.
// It never retries ErrImageNotFound/ErrContainerNotFound: those are
// terminal answers, not transport failures.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		err = fn()
		if err == nil || isNotFound(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == defaultMaxRetries {
			break
		}
		wait := retryablehttp.DefaultBackoff(defaultMinBackoff, defaultMaxBackoff, attempt, nil)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrImageNotFound) || errors.Is(err, ErrContainerNotFound)
}
