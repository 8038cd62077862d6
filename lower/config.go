/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package lower

// BuildConfig is the in-memory configuration record of the lowering pipeline.
type BuildConfig struct {
	// AutoUnrollMaxStep is the maximum step count of loops auto-unrolled by
	// the unrolling phase; 0 disables auto-unrolling.
	AutoUnrollMaxStep int

	// AutoUnrollMaxDepth is the maximum loop-nest depth considered for
	// auto-unrolling.
	AutoUnrollMaxDepth int

	// AutoUnrollMaxExtent is the maximum constant extent of loops
	// auto-unrolled; 0 means no extent limit.
	AutoUnrollMaxExtent int

	// UnrollExplicit replicates the bodies of loops marked for unrolling;
	// when false, the mark is kept as a hint for the backend.
	UnrollExplicit bool

	// DetectGlobalBarrier enables global-barrier detection in thread-group
	// reduction lowering.
	DetectGlobalBarrier bool

	// PartitionConstLoop enables the loop-partition phase for loops with
	// constant bounds.
	PartitionConstLoop bool

	// OffsetFactor is the required divisibility of buffer element offsets
	// declared for tensor arguments; 0 means none.
	OffsetFactor int

	// DataAlignment is the byte alignment declared for tensor-argument
	// buffers; -1 means the default.
	DataAlignment int

	// RestrictedFunc declares that buffer arguments do not alias.
	RestrictedFunc bool

	// DoubleBufferSplitLoop is the split factor of the double-buffer
	// injection phase.
	DoubleBufferSplitLoop int
}

// DefaultBuildConfig returns the default pipeline configuration.
func DefaultBuildConfig() *BuildConfig {
	return &BuildConfig{
		AutoUnrollMaxStep:     0,
		AutoUnrollMaxDepth:    8,
		AutoUnrollMaxExtent:   0,
		UnrollExplicit:        true,
		DetectGlobalBarrier:   false,
		PartitionConstLoop:    false,
		OffsetFactor:          0,
		DataAlignment:         -1,
		RestrictedFunc:        true,
		DoubleBufferSplitLoop: 1,
	}
}

// cacheLineSize is the cache-line-size constant assumed by storage
// flattening when aligning internal buffers.
const cacheLineSize = 64
