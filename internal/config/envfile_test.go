package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFileParsesLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env")
	content := "# comment\n" +
		"export ZAPLINK_TEST_A=alpha\n" +
		"ZAPLINK_TEST_B=\"quoted value\"\n" +
		"ZAPLINK_TEST_C='single'\n" +
		"not-a-pair\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ZAPLINK_TEST_A", "")
	os.Unsetenv("ZAPLINK_TEST_A")
	os.Unsetenv("ZAPLINK_TEST_B")
	os.Unsetenv("ZAPLINK_TEST_C")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("ZAPLINK_TEST_A"); got != "alpha" {
		t.Fatalf("A = %q", got)
	}
	if got := os.Getenv("ZAPLINK_TEST_B"); got != "quoted value" {
		t.Fatalf("B = %q", got)
	}
	if got := os.Getenv("ZAPLINK_TEST_C"); got != "single" {
		t.Fatalf("C = %q", got)
	}
}

func TestLoadEnvFileNeverOverridesProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env")
	if err := os.WriteFile(path, []byte("ZAPLINK_TEST_D=file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ZAPLINK_TEST_D", "process")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("ZAPLINK_TEST_D"); got != "process" {
		t.Fatalf("process env overridden: %q", got)
	}
}
