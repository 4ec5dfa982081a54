package llm

import (
	"os"
	"strconv"
	"strings"
)

// Keys collects the credential pool for envName. It reads, in order, the
// variable itself, a comma-separated list in envName+"S", and numbered
// variables envName_1, envName_2, ... until the first gap. Duplicates are
// dropped, first occurrence wins.
func Keys(envName string, getenv func(string) string) []string {
	if getenv == nil {
		getenv = os.Getenv
	}
	var keys []string
	seen := make(map[string]bool)
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}

	add(getenv(envName))
	for _, k := range strings.Split(getenv(envName+"S"), ",") {
		add(k)
	}
	for i := 1; ; i++ {
		v := getenv(envName + "_" + strconv.Itoa(i))
		if v == "" {
			break
		}
		add(v)
	}
	return keys
}
