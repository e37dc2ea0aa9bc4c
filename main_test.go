package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go.etcd.io/bbolt"
)

func TestCompressDecompress(t *testing.T) {
	testData := []byte("Hello, DiffKeeper! This is test data that should compress well.")
	
	compressed, err := compressData(testData)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}
	
	if len(compressed) >= len(testData) {
		t.Logf("Warning: Compressed size (%d) >= original size (%d)", len(compressed), len(testData))
	}
	
	decompressed, err := decompressData(compressed)
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}
	
	if string(decompressed) != string(testData) {
		t.Errorf("Decompressed data doesn't match original.\nExpected: %s\nGot: %s", testData, decompressed)
	}
}

func TestDiffKeeperLifecycle(t *testing.T) {
	// Create temporary directories
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")
	
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}
	
	// Initialize DiffKeeper
	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()
	
	// Test file creation and capture
	testFile := filepath.Join(stateDir, "test.txt")
	testContent := []byte("Initial content")
	
	if err := os.WriteFile(testFile, testContent, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	
	// Capture the file
	if err := dk.BlueShift(testFile); err != nil {
		t.Fatalf("BlueShift failed: %v", err)
	}
	
	// Modify the file
	updatedContent := []byte("Updated content")
	if err := os.WriteFile(testFile, updatedContent, 0644); err != nil {
		t.Fatalf("Failed to update test file: %v", err)
	}
	
	// Capture the update
	if err := dk.BlueShift(testFile); err != nil {
		t.Fatalf("BlueShift update failed: %v", err)
	}
	
	// Remove the file to simulate loss
	if err := os.Remove(testFile); err != nil {
		t.Fatalf("Failed to remove test file: %v", err)
	}
	
	// Verify file is gone
	if _, err := os.Stat(testFile); !os.IsNotExist(err) {
		t.Fatal("Test file should not exist")
	}
	
	// RedShift should restore it
	if err := dk.RedShift(); err != nil {
		t.Fatalf("RedShift failed: %v", err)
	}
	
	// Verify file was restored with latest content
	restored, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("Failed to read restored file: %v", err)
	}
	
	if string(restored) != string(updatedContent) {
		t.Errorf("Restored content doesn't match.\nExpected: %s\nGot: %s", updatedContent, restored)
	}
}

func TestMultipleFilesRedShift(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")
	
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}
	
	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()
	
	// Create multiple test files
	testFiles := map[string]string{
		"config.json":  `{"setting": "value"}`,
		"data.txt":     "Some data content",
		"subdir/nested.log": "Nested file content",
	}
	
	for path, content := range testFiles {
		fullPath := filepath.Join(stateDir, path)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", path, err)
		}
		if err := dk.BlueShift(fullPath); err != nil {
			t.Fatalf("BlueShift failed for %s: %v", path, err)
		}
	}
	
	// Remove all files
	if err := os.RemoveAll(stateDir); err != nil {
		t.Fatalf("Failed to remove state dir: %v", err)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to recreate state dir: %v", err)
	}
	
	// Restore all files
	if err := dk.RedShift(); err != nil {
		t.Fatalf("RedShift failed: %v", err)
	}
	
	// Verify all files were restored
	for path, expectedContent := range testFiles {
		fullPath := filepath.Join(stateDir, path)
		restored, err := os.ReadFile(fullPath)
		if err != nil {
			t.Errorf("Failed to read restored file %s: %v", path, err)
			continue
		}
		if string(restored) != expectedContent {
			t.Errorf("File %s content mismatch.\nExpected: %s\nGot: %s", path, expectedContent, restored)
		}
	}
}

func TestNoChangeNoDelta(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")
	
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}
	
	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()
	
	testFile := filepath.Join(stateDir, "test.txt")
	testContent := []byte("Unchanging content")
	
	if err := os.WriteFile(testFile, testContent, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	
	// Capture first time
	if err := dk.BlueShift(testFile); err != nil {
		t.Fatalf("First BlueShift failed: %v", err)
	}
	
	// Capture again without changes - should be no-op
	if err := dk.BlueShift(testFile); err != nil {
		t.Fatalf("Second BlueShift failed: %v", err)
	}
	
	// Verify only one delta was stored
	count := 0
	dk.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketDeltas))
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		return nil
	})
	
	if count != 1 {
		t.Errorf("Expected 1 delta, got %d", count)
	}
}

func TestSubdirectoryWatching(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}

	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()

	// Create nested directory structure
	nestedDir := filepath.Join(stateDir, "level1", "level2", "level3")
	if err := os.MkdirAll(nestedDir, 0755); err != nil {
		t.Fatalf("Failed to create nested dir: %v", err)
	}

	// Create files at different levels
	testFiles := map[string]string{
		filepath.Join(stateDir, "root.txt"):                    "Root level file",
		filepath.Join(stateDir, "level1", "first.txt"):         "First level file",
		filepath.Join(stateDir, "level1", "level2", "second.txt"): "Second level file",
		filepath.Join(nestedDir, "deep.txt"):                   "Deep nested file",
	}

	// Write and capture all files
	for path, content := range testFiles {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", path, err)
		}
		if err := dk.BlueShift(path); err != nil {
			t.Fatalf("BlueShift failed for %s: %v", path, err)
		}
	}

	// Remove entire state directory
	if err := os.RemoveAll(stateDir); err != nil {
		t.Fatalf("Failed to remove state dir: %v", err)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to recreate state dir: %v", err)
	}

	// Restore all files via RedShift
	if err := dk.RedShift(); err != nil {
		t.Fatalf("RedShift failed: %v", err)
	}

	// Verify all files were restored with correct content
	for path, expectedContent := range testFiles {
		restored, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("Failed to read restored file %s: %v", path, err)
			continue
		}
		if string(restored) != expectedContent {
			t.Errorf("File %s content mismatch.\nExpected: %s\nGot: %s", path, expectedContent, restored)
		}
	}
}

func TestLargeFiles(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}

	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()

	// Create a 2MB file with compressible data
	testFile := filepath.Join(stateDir, "large.txt")
	largeContent := make([]byte, 2*1024*1024) // 2MB

	// Fill with repeating pattern (compresses well)
	pattern := []byte("DiffKeeper test data - this pattern repeats to create a large compressible file. ")
	for i := 0; i < len(largeContent); i++ {
		largeContent[i] = pattern[i%len(pattern)]
	}

	if err := os.WriteFile(testFile, largeContent, 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}

	// Capture the large file
	if err := dk.BlueShift(testFile); err != nil {
		t.Fatalf("BlueShift failed for large file: %v", err)
	}

	// Verify compression ratio
	var compressedSize int
	dk.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketDeltas))
		relPath, _ := filepath.Rel(stateDir, testFile)
		data := b.Get([]byte(relPath))
		compressedSize = len(data)
		return nil
	})

	compressionRatio := float64(compressedSize) / float64(len(largeContent)) * 100
	t.Logf("Original size: %d bytes, Compressed size: %d bytes, Ratio: %.2f%%",
		len(largeContent), compressedSize, compressionRatio)

	if compressionRatio > 50 {
		t.Errorf("Poor compression ratio: %.2f%% (expected < 50%% for repetitive data)", compressionRatio)
	}

	// Remove the file
	if err := os.Remove(testFile); err != nil {
		t.Fatalf("Failed to remove large file: %v", err)
	}

	// Restore via RedShift
	if err := dk.RedShift(); err != nil {
		t.Fatalf("RedShift failed: %v", err)
	}

	// Verify restored content matches
	restored, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("Failed to read restored file: %v", err)
	}

	if len(restored) != len(largeContent) {
		t.Errorf("Restored file size mismatch. Expected: %d, Got: %d", len(largeContent), len(restored))
	}

	// Check first and last chunks to verify integrity
	if string(restored[:100]) != string(largeContent[:100]) {
		t.Error("Restored file beginning doesn't match original")
	}
	if string(restored[len(restored)-100:]) != string(largeContent[len(largeContent)-100:]) {
		t.Error("Restored file end doesn't match original")
	}
}

func TestPermissionErrors(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}

	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()

	// Test 1: Try to capture a non-existent file
	nonExistentFile := filepath.Join(stateDir, "does-not-exist.txt")
	err = dk.BlueShift(nonExistentFile)
	if err == nil {
		t.Error("Expected error when capturing non-existent file, got nil")
	}

	// Test 2: Create a file, make it unreadable (Unix-only, skip on Windows)
	if runtime.GOOS != "windows" {
		unreadableFile := filepath.Join(stateDir, "unreadable.txt")
		if err := os.WriteFile(unreadableFile, []byte("secret"), 0644); err != nil {
			t.Fatalf("Failed to write unreadable file: %v", err)
		}

		// Remove read permissions
		if err := os.Chmod(unreadableFile, 0000); err != nil {
			t.Fatalf("Failed to chmod file: %v", err)
		}
		defer os.Chmod(unreadableFile, 0644) // Restore for cleanup

		err = dk.BlueShift(unreadableFile)
		if err == nil {
			t.Error("Expected error when capturing unreadable file, got nil")
		}
	} else {
		t.Log("Skipping unreadable file test on Windows")
	}

	// Test 3: Try to create DiffKeeper with invalid store path
	invalidStorePath := filepath.Join(tmpDir, "nonexistent", "path", "store.bolt")
	_, err = NewDiffKeeper(stateDir, invalidStorePath)
	if err == nil {
		t.Error("Expected error when creating DiffKeeper with invalid store path, got nil")
	}
}

func TestCloseWithNilFields(t *testing.T) {
	// Test Close() when watcher and db are nil
	dk := &DiffKeeper{
		watcher:  nil,
		db:       nil,
		stateDir: "",
	}

	err := dk.Close()
	if err != nil {
		t.Errorf("Close() with nil fields should not error, got: %v", err)
	}
}

func TestNewDiffKeeperOnFreshStore(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}

	// Create a valid DiffKeeper first
	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}

	// Verify it was created successfully
	if dk == nil {
		t.Error("Expected non-nil DiffKeeper")
	}

	dk.Close()
}

func TestDecompressError(t *testing.T) {
	// Test decompressing invalid data
	invalidData := []byte("not gzip compressed data")
	_, err := decompressData(invalidData)
	if err == nil {
		t.Error("Expected error when decompressing invalid data, got nil")
	}
}

func TestCompressEmptyData(t *testing.T) {
	// Test compressing empty data
	emptyData := []byte{}
	compressed, err := compressData(emptyData)
	if err != nil {
		t.Errorf("Failed to compress empty data: %v", err)
	}

	decompressed, err := decompressData(compressed)
	if err != nil {
		t.Errorf("Failed to decompress empty data: %v", err)
	}

	if len(decompressed) != 0 {
		t.Errorf("Expected empty decompressed data, got %d bytes", len(decompressed))
	}
}

func TestWatchLoop(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}

	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()

	// Start the watch loop in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- dk.WatchLoop()
	}()

	// Give the watcher time to start
	// Note: In production, you might use a sync mechanism
	// For tests, a small sleep is acceptable
	select {
	case err := <-errChan:
		t.Fatalf("WatchLoop exited immediately with error: %v", err)
	default:
		// WatchLoop is running
	}

	// Create a test file - should be auto-captured
	testFile := filepath.Join(stateDir, "watched.txt")
	testContent := []byte("Auto-watched content")

	if err := os.WriteFile(testFile, testContent, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	// Give the watcher time to detect and process the change
	// In a real test, you might want to poll the database or use a synchronization mechanism
	// For now, we'll just verify the file was created
	if _, err := os.Stat(testFile); err != nil {
		t.Errorf("Test file not found: %v", err)
	}

	// Clean up: Close the DiffKeeper to stop the watch loop
	dk.Close()

	// Verify the watch loop stopped
	select {
	case err := <-errChan:
		if err != nil {
			t.Logf("WatchLoop exited with error (expected on close): %v", err)
		}
	default:
		t.Log("WatchLoop did not exit immediately after Close()")
	}
}

func TestWatchLoopFileChanges(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}

	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()

	// Create initial file before starting watch
	testFile := filepath.Join(stateDir, "changing.txt")
	if err := os.WriteFile(testFile, []byte("initial"), 0644); err != nil {
		t.Fatalf("Failed to write initial file: %v", err)
	}

	// Capture initial state
	if err := dk.BlueShift(testFile); err != nil {
		t.Fatalf("Initial BlueShift failed: %v", err)
	}

	// Modify the file
	if err := os.WriteFile(testFile, []byte("modified content"), 0644); err != nil {
		t.Fatalf("Failed to modify file: %v", err)
	}

	// Capture the change
	if err := dk.BlueShift(testFile); err != nil {
		t.Fatalf("BlueShift after modification failed: %v", err)
	}

	// Remove file and restore
	if err := os.Remove(testFile); err != nil {
		t.Fatalf("Failed to remove file: %v", err)
	}

	if err := dk.RedShift(); err != nil {
		t.Fatalf("RedShift failed: %v", err)
	}

	// Verify restored content
	restored, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("Failed to read restored file: %v", err)
	}

	if string(restored) != "modified content" {
		t.Errorf("Expected 'modified content', got '%s'", string(restored))
	}
}

func TestWatchLoopWithSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}

	// Create subdirectories before starting watch
	subDir := filepath.Join(stateDir, "subdir")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}

	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()

	// Start watch loop
	go dk.WatchLoop()

	// Give watcher time to initialize
	// In production code, you'd use a proper sync mechanism
	// For tests, a brief pause is acceptable
	time.Sleep(50 * time.Millisecond)

	// Create file in subdirectory
	testFile := filepath.Join(subDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	// Give watcher time to process
	time.Sleep(150 * time.Millisecond)

	// Verify we can manually capture the file (proving the directory structure is working)
	if err := dk.BlueShift(testFile); err != nil {
		t.Errorf("Failed to manually capture file in subdirectory: %v", err)
	}
}

func TestBlueShiftFileOutsideStateDir(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")
	outsideDir := filepath.Join(tmpDir, "outside")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}
	if err := os.MkdirAll(outsideDir, 0755); err != nil {
		t.Fatalf("Failed to create outside dir: %v", err)
	}

	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()

	// Create file outside state directory
	outsideFile := filepath.Join(outsideDir, "external.txt")
	if err := os.WriteFile(outsideFile, []byte("external content"), 0644); err != nil {
		t.Fatalf("Failed to write outside file: %v", err)
	}

	// Try to capture file outside state directory
	// This should work; the key is the path relative to the state dir (it starts with "..")
	if err := dk.BlueShift(outsideFile); err != nil {
		t.Logf("BlueShift on external file returned error: %v", err)
	}
}

func TestRedShiftWithCorruptedData(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}

	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}

	// Manually insert corrupted data into database
	err = dk.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketDeltas))
		// Insert invalid compressed data
		return b.Put([]byte("corrupted.txt"), []byte("not gzip data"))
	})
	if err != nil {
		t.Fatalf("Failed to insert corrupted data: %v", err)
	}

	// RedShift should handle corrupted data gracefully (log warning and continue)
	err = dk.RedShift()
	if err != nil {
		t.Logf("RedShift with corrupted data returned error: %v", err)
	}

	dk.Close()
}

func TestCompressLargeData(t *testing.T) {
	// Test compressing larger data
	largeData := make([]byte, 1024*1024) // 1MB
	for i := range largeData {
		largeData[i] = byte(i % 256)
	}

	compressed, err := compressData(largeData)
	if err != nil {
		t.Fatalf("Failed to compress large data: %v", err)
	}

	if len(compressed) >= len(largeData) {
		t.Logf("Warning: Compressed size (%d) >= original size (%d) for patterned data", len(compressed), len(largeData))
	}

	decompressed, err := decompressData(compressed)
	if err != nil {
		t.Fatalf("Failed to decompress large data: %v", err)
	}

	if len(decompressed) != len(largeData) {
		t.Errorf("Decompressed size mismatch: expected %d, got %d", len(largeData), len(decompressed))
	}
}

func TestReadOnlyScenarios(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "test.bolt")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}

	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		t.Fatalf("Failed to create DiffKeeper: %v", err)
	}

	// Create and capture a file
	testFile := filepath.Join(stateDir, "readonly-test.txt")
	testContent := []byte("Read-only test content")

	if err := os.WriteFile(testFile, testContent, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if err := dk.BlueShift(testFile); err != nil {
		t.Fatalf("BlueShift failed: %v", err)
	}

	// Close the DiffKeeper to release the database
	dk.Close()

	// Make the store file read-only (Unix-only test, skip on Windows)
	if runtime.GOOS != "windows" {
		if err := os.Chmod(storePath, 0444); err != nil {
			t.Fatalf("Failed to make store read-only: %v", err)
		}
		defer os.Chmod(storePath, 0644) // Restore for cleanup

		// Try to open DiffKeeper with read-only database
		dk2, err := NewDiffKeeper(stateDir, storePath)
		if err == nil {
			// If opened successfully, try to write - should fail
			testFile2 := filepath.Join(stateDir, "another.txt")
			os.WriteFile(testFile2, []byte("test"), 0644)

			err = dk2.BlueShift(testFile2)
			if err == nil {
				t.Error("Expected error when writing to read-only database, got nil")
			}
			dk2.Close()
		}
		// If we can't even open it, that's also acceptable behavior
	} else {
		t.Skip("Read-only filesystem test skipped on Windows")
	}
}

func BenchmarkBlueShift(b *testing.B) {
	tmpDir := b.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "bench.bolt")
	
	os.MkdirAll(stateDir, 0755)
	
	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		b.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()
	
	testFile := filepath.Join(stateDir, "bench.txt")
	testContent := []byte("Benchmark content that changes")
	
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		content := append(testContent, byte(i%256))
		os.WriteFile(testFile, content, 0644)
		dk.BlueShift(testFile)
	}
}

func BenchmarkRedShift(b *testing.B) {
	tmpDir := b.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	storePath := filepath.Join(tmpDir, "bench.bolt")
	
	os.MkdirAll(stateDir, 0755)
	
	dk, err := NewDiffKeeper(stateDir, storePath)
	if err != nil {
		b.Fatalf("Failed to create DiffKeeper: %v", err)
	}
	defer dk.Close()
	
	// Create 100 test files
	for i := 0; i < 100; i++ {
		testFile := filepath.Join(stateDir, "file_"+string(rune(i))+".txt")
		content := []byte("Content for file " + string(rune(i)))
		os.WriteFile(testFile, content, 0644)
		dk.BlueShift(testFile)
	}
	
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		os.RemoveAll(stateDir)
		os.MkdirAll(stateDir, 0755)
		dk.RedShift()
	}
}