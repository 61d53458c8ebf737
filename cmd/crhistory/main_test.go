package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/crthrottle/internal/visits"
	"github.com/loykin/crthrottle/internal/visits/visitstest"
)

const byTimeThenID = "last_visit_time desc, visits.id"

func history(t *testing.T) string {
	t.Helper()
	urls, vs := visitstest.Default()
	return visitstest.Write(t, urls, vs)
}

func runCLI(args ...string) (int, string, string) {
	var out, errb bytes.Buffer
	code := run(context.Background(), args, &out, &errb)
	return code, out.String(), errb.String()
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func TestReportColumns(t *testing.T) {
	file := history(t)
	code, out, stderr := runCLI("--order-by", byTimeThenID, "--show-visit-id", "--show-urlbase", "--show-visit-count", file)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, []string{
		"4 https://news.example.org/ 1",
		"1 https://www.example.com/ 2",
		"3 https://www.example.com/ 2",
		"2 http://localhost:8080/ 1",
	}, lines(out))
}

func TestReportTimes(t *testing.T) {
	file := history(t)

	code, out, _ := runCLI("--order-by", "visits.id", "--show-visit-time", "--show-last-visit-time", file)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "20150101000000 20151231000000", lines(out)[0])

	code, out, _ = runCLI("--order-by", "visits.id", "--report-raw-times", "--show-visit-time", file)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "13064544000000000", lines(out)[0])
}

func TestReportAllFields(t *testing.T) {
	file := history(t)
	code, out, _ := runCLI("--order-by", "visits.id desc", file)
	require.Equal(t, exitOK, code)
	got := lines(out)
	require.Len(t, got, 4)
	assert.Equal(t, "4\t3\t20160301000000\t3\thttps://news.example.org/\t\t1\t20160301000000\ttrue", got[0])
}

func TestReportJSON(t *testing.T) {
	file := history(t)
	code, out, _ := runCLI("--order-by", "visits.id", "--json", file)
	require.Equal(t, exitOK, code)
	var first visits.Visit
	require.NoError(t, json.Unmarshal([]byte(lines(out)[0]), &first))
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "Example A", first.Title)
	assert.Equal(t, visitstest.T20150101, first.VisitTime)
}

func TestTimeRestrictions(t *testing.T) {
	file := history(t)
	cases := []struct {
		name string
		args []string
		want []string
	}{
		{"after", []string{"-A", "20150601"}, []string{"3", "4"}},
		{"before", []string{"--before", "20151231"}, []string{"1", "2"}},
		{"between", []string{"-A", "20150101", "-B", "20151231"}, []string{"2"}},
		{"use last", []string{"--use-last", "-A", "20151231"}, []string{"4"}},
		{"use last before", []string{"--use-last", "-B", "201512"}, []string{"2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args := append([]string{"--order-by", "visits.id", "--show-visit-id"}, tc.args...)
			code, out, stderr := runCLI(append(args, file)...)
			require.Equal(t, exitOK, code, stderr)
			assert.Equal(t, tc.want, lines(out))
		})
	}
}

func TestExitCodes(t *testing.T) {
	file := history(t)
	junk := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(junk, []byte("this is not a database, just text padding it out"), 0o644))

	cases := []struct {
		name string
		args []string
		want int
	}{
		{"no file", []string{}, exitNoFile},
		{"missing file", []string{filepath.Join(t.TempDir(), "History")}, exitUnreadable},
		{"not a database", []string{junk}, exitDatabase},
		{"extra word", []string{"--order-by", "visit_time desc title", file}, exitOrderSpec},
		{"bad modifier", []string{"--order-by", "visit_time asc", file}, exitOrderSpec},
		{"unknown field", []string{"--order-by", "nope", file}, exitOrderSpec},
		{"empty ordering", []string{"--order-by", "title,", file}, exitOrderSpec},
		{"bad timestamp", []string{"-A", "2015x", file}, exitUsage},
		{"odd timestamp", []string{"-B", "20151", file}, exitUsage},
		{"two files", []string{file, file}, exitUsage},
		{"unknown flag", []string{"--show-everything", file}, exitUsage},
		{"bad log level", []string{"--log-level", "loud", file}, exitUsage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := runCLI(tc.args...)
			assert.Equal(t, tc.want, code, stderr)
			assert.True(t, strings.HasPrefix(stderr, "crhistory: "), stderr)
		})
	}
}

func TestUnreadableBeforeOrdering(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "History")
	code, _, _ := runCLI("--order-by", "nope", missing)
	assert.Equal(t, exitUnreadable, code)
}
