// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package luacov reads, merges and writes luacov coverage stats files.
//
// A stats file is a sequence of two-line records:
//
//	<line_count>:<source_file_name>
//	<count_0> <count_1> ... <count_{line_count-1}>
//
// Every process running instrumented Lua code writes its own stats file.
// Collect folds all of them, plus any previously merged output, into a
// single file so coverage accumulates across test suite invocations:
//
//	res, err := luacov.CollectDir(ctx, tmpDir, luacov.StatsFile, logger)
//	if err != nil {
//	    // a corrupt stats file aborts the merge; the output is untouched
//	}
//	if res.NothingToDo() {
//	    // no *.luacov.stats.out files in tmpDir
//	}
//
// Vectors of differing lengths for the same source are zero-padded at the
// tail before element-wise addition, so line N always lines up with line N.
//
// Collect does not lock the output file. Concurrent collects against the
// same output race and the last writer wins.
package luacov
