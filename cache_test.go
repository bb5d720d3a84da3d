package main

import (
	"testing"

	"proctrace/types"
)

func TestProcessCacheRoundtrip(t *testing.T) {
	cache, err := NewProcessCache(1000)
	if err != nil {
		t.Fatalf("NewProcessCache failed: %v", err)
	}

	meta := &types.ProcessMeta{Pid: 100, Ppid: 1, Comm: "python3", ExePath: "/usr/bin/python3"}
	cache.Set(100, meta)
	cache.Wait()

	got, ok := cache.Get(100)
	if !ok {
		t.Fatal("Get(100) missed after Set")
	}
	if got.Comm != "python3" || got.ExePath != "/usr/bin/python3" {
		t.Errorf("Get(100) = %+v", got)
	}

	cache.Delete(100)
	cache.Wait()
	if _, ok := cache.Get(100); ok {
		t.Error("Get(100) should miss after Delete")
	}
}

func TestProcessCacheMiss(t *testing.T) {
	cache, err := NewProcessCache(1000)
	if err != nil {
		t.Fatalf("NewProcessCache failed: %v", err)
	}
	if _, ok := cache.Get(12345); ok {
		t.Error("Get on empty cache should miss")
	}
}
