package neo4jadmin

import (
	"regexp"
	"strconv"
)

// Summary is what the import command reports at the end of its output.
// Fields are -1 when the output does not mention them.
type Summary struct {
	Nodes         int64
	Relationships int64
	Properties    int64
}

var (
	nodesRe = regexp.MustCompile(`(?m)(\d+)\s+nodes\b`)
	relsRe  = regexp.MustCompile(`(?m)(\d+)\s+relationships\b`)
	propsRe = regexp.MustCompile(`(?m)(\d+)\s+properties\b`)
)

// ParseSummary reads the "Imported:" block printed by both command
// dialects. The last match wins since progress lines come first.
func ParseSummary(output string) Summary {
	return Summary{
		Nodes:         lastInt(nodesRe, output),
		Relationships: lastInt(relsRe, output),
		Properties:    lastInt(propsRe, output),
	}
}

func lastInt(re *regexp.Regexp, s string) int64 {
	m := re.FindAllStringSubmatch(s, -1)
	if len(m) == 0 {
		return -1
	}
	n, err := strconv.ParseInt(m[len(m)-1][1], 10, 64)
	if err != nil {
		return -1
	}
	return n
}
