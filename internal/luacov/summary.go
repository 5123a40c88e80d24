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

package luacov

// FileSummary is the line coverage of one source file.
type FileSummary struct {
	Source  string  `json:"source"`
	Lines   int     `json:"lines"`
	Hit     int     `json:"hit"`
	Percent float64 `json:"percent"`
}

// Summarize returns per-source summaries sorted by source name. A line
// counts as hit when its execution count is positive.
func Summarize(m Map) []FileSummary {
	out := make([]FileSummary, 0, len(m))
	for _, src := range m.Sources() {
		counts := m[src]
		s := FileSummary{Source: src, Lines: len(counts)}
		for _, n := range counts {
			if n > 0 {
				s.Hit++
			}
		}
		s.Percent = percent(s.Hit, s.Lines)
		out = append(out, s)
	}
	return out
}

// Total folds summaries into one with Source "total".
func Total(summaries []FileSummary) FileSummary {
	t := FileSummary{Source: "total"}
	for _, s := range summaries {
		t.Lines += s.Lines
		t.Hit += s.Hit
	}
	t.Percent = percent(t.Hit, t.Lines)
	return t
}

func percent(hit, lines int) float64 {
	if lines == 0 {
		return 0
	}
	return float64(hit) * 100 / float64(lines)
}
