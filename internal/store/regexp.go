package store

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"sync"

	gosqlite "github.com/glebarez/go-sqlite"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	regexpFunctionName = "regexp"
	patternCacheSize   = 256
)

var (
	registerOnce sync.Once
	registerErr  error
	// New only fails for a non-positive size.
	compiledPatterns, _ = lru.New[string, *regexp.Regexp](patternCacheSize)
)

// RegisterSQLFunctions installs the REGEXP predicate into the SQLite driver.
// It must run before the first connection is opened and is safe to call repeatedly.
func RegisterSQLFunctions() error {
	registerOnce.Do(func() {
		registerErr = gosqlite.RegisterDeterministicScalarFunction(regexpFunctionName, 2, regexpFunction)
	})
	return registerErr
}

// regexpFunction implements "value REGEXP pattern", which SQLite invokes as regexp(pattern, value).
func regexpFunction(_ *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("regexp: expected 2 arguments, got %d", len(args))
	}
	pattern, ok := textArgument(args[0])
	if !ok {
		return int64(0), nil
	}
	value, ok := textArgument(args[1])
	if !ok {
		return int64(0), nil
	}
	compiled, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	if compiled.MatchString(value) {
		return int64(1), nil
	}
	return int64(0), nil
}

func textArgument(value driver.Value) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case []byte:
		return string(typed), true
	default:
		return "", false
	}
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := compiledPatterns.Get(pattern); ok {
		return cached, nil
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	compiledPatterns.Add(pattern, compiled)
	return compiled, nil
}
