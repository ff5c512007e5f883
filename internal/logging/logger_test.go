package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogging(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		CloseAll()
		configMu.Lock()
		settings = Settings{}
		logsDir = ""
		configMu.Unlock()
	})
}

// TestAllCategoriesLog checks that every category gets a non-empty file in debug mode.
func TestAllCategoriesLog(t *testing.T) {
	resetLogging(t)
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, Initialize(dir, Settings{DebugMode: true, Level: "debug"}))
	assert.True(t, IsDebugMode())

	for _, cat := range AllCategories {
		assert.True(t, IsCategoryEnabled(cat), "category %s", cat)
		l := Get(cat)
		l.Info("Test info message for %s", cat)
		l.Debug("Test debug message for %s", cat)
		l.Warn("Test warn message for %s", cat)
	}
	Synth("Convenience synth log")
	Store("Convenience store log")
	KB("Convenience kb log")

	CloseAll()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, cat := range AllCategories {
		found := false
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), "_"+string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(dir, e.Name()))
				require.NoError(t, err)
				assert.NotEmpty(t, content, "log file for %s", cat)
			}
		}
		assert.True(t, found, "no log file for %s", cat)
	}
}

// TestDebugModeDisabled checks that nothing touches disk in production mode.
func TestDebugModeDisabled(t *testing.T) {
	resetLogging(t)
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, Initialize(dir, Settings{DebugMode: false}))
	assert.False(t, IsDebugMode())
	assert.False(t, IsCategoryEnabled(CategorySynth))

	Get(CategorySynth).Info("dropped")
	Boot("dropped")
	CloseAll()

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "logs directory should not be created")
}

func TestCategoryFilter(t *testing.T) {
	resetLogging(t)
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, Initialize(dir, Settings{
		DebugMode:  true,
		Categories: map[string]bool{"kb": false, "store": true},
	}))

	assert.False(t, IsCategoryEnabled(CategoryKB))
	assert.True(t, IsCategoryEnabled(CategoryStore))
	assert.True(t, IsCategoryEnabled(CategoryGrammar), "unlisted categories default to enabled")
}

func TestInitializeRequiresDir(t *testing.T) {
	resetLogging(t)
	assert.Error(t, Initialize("", Settings{DebugMode: true}))
}

func TestTimer(t *testing.T) {
	resetLogging(t)
	timer := StartTimer(CategoryPerformance, "noop")
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), time.Millisecond)
	assert.GreaterOrEqual(t, timer.StopWithThreshold(time.Nanosecond), time.Millisecond)
}
