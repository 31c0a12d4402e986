/*
 * Copyright 2025 BranchWatch Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package scheduler

import "github.com/google/uuid"

const (
	minBatchSize  = 50
	maxBatchSize  = 500
	batchRounding = 50
	batchDivisor  = 10
)

// BatchSize sizes probe batches for a device count: roughly a tenth of the
// estate, rounded up to a multiple of 50 and clamped to [50, 500]. Small
// estates probe in one batch; huge ones never exceed 500 per task.
func BatchSize(deviceCount int) int {
	if deviceCount <= 0 {
		return minBatchSize
	}

	size := (deviceCount + batchDivisor - 1) / batchDivisor

	if rem := size % batchRounding; rem != 0 {
		size += batchRounding - rem
	}

	if size < minBatchSize {
		size = minBatchSize
	}

	if size > maxBatchSize {
		size = maxBatchSize
	}

	return size
}

// SplitBatches partitions the IDs into consecutive batches. Every device
// appears in exactly one batch.
func SplitBatches(ids []uuid.UUID) [][]uuid.UUID {
	if len(ids) == 0 {
		return nil
	}

	size := BatchSize(len(ids))
	batches := make([][]uuid.UUID, 0, (len(ids)+size-1)/size)

	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}

		batches = append(batches, ids[start:end])
	}

	return batches
}
