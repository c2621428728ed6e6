package testing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/marmos91/dittoxfer/pkg/content"
)

// StoreTestSuite tests the WritableContentStore contract, independently of
// the backend.
//
// Usage:
//
//	func TestMyContentStore(t *testing.T) {
//	    suite := &contenttesting.StoreTestSuite{
//	        NewStore: func() content.WritableContentStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func() content.WritableContentStore
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("ReadMissing", suite.testReadMissing)
	t.Run("WriteThenRead", suite.testWriteThenRead)
	t.Run("Overwrite", suite.testOverwrite)
	t.Run("EmptyContent", suite.testEmptyContent)
	t.Run("Delete", suite.testDelete)
	t.Run("NestedID", suite.testNestedID)
	t.Run("CancelledContext", suite.testCancelledContext)
}

func testContext() context.Context {
	return context.Background()
}

func (suite *StoreTestSuite) testReadMissing(t *testing.T) {
	store := suite.NewStore()
	ctx := testContext()

	_, err := store.ReadContent(ctx, "missing.txt")
	if !errors.Is(err, content.ErrContentNotFound) {
		t.Fatalf("ReadContent() error = %v, want ErrContentNotFound", err)
	}

	_, err = store.GetContentSize(ctx, "missing.txt")
	if !errors.Is(err, content.ErrContentNotFound) {
		t.Fatalf("GetContentSize() error = %v, want ErrContentNotFound", err)
	}

	exists, err := store.ContentExists(ctx, "missing.txt")
	if err != nil {
		t.Fatalf("ContentExists() error = %v", err)
	}
	if exists {
		t.Fatal("ContentExists() = true for missing content")
	}
}

func (suite *StoreTestSuite) testWriteThenRead(t *testing.T) {
	store := suite.NewStore()
	ctx := testContext()
	data := []byte("hi")

	if err := store.WriteContent(ctx, "hello.txt", data); err != nil {
		t.Fatalf("WriteContent() error = %v", err)
	}

	got, err := content.ReadAll(ctx, store, "hello.txt")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("ReadAll() = %q, want %q", got, data)
	}

	size, err := store.GetContentSize(ctx, "hello.txt")
	if err != nil {
		t.Fatalf("GetContentSize() error = %v", err)
	}
	if size != uint64(len(data)) {
		t.Fatalf("GetContentSize() = %d, want %d", size, len(data))
	}

	exists, err := store.ContentExists(ctx, "hello.txt")
	if err != nil || !exists {
		t.Fatalf("ContentExists() = %v, %v; want true, nil", exists, err)
	}
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	store := suite.NewStore()
	ctx := testContext()

	if err := store.WriteContent(ctx, "f.bin", []byte("first version")); err != nil {
		t.Fatalf("WriteContent() error = %v", err)
	}
	if err := store.WriteContent(ctx, "f.bin", []byte("v2")); err != nil {
		t.Fatalf("WriteContent() error = %v", err)
	}

	got, err := content.ReadAll(ctx, store, "f.bin")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("ReadAll() = %q, want %q", got, "v2")
	}
}

func (suite *StoreTestSuite) testEmptyContent(t *testing.T) {
	store := suite.NewStore()
	ctx := testContext()

	if err := store.WriteContent(ctx, "empty", nil); err != nil {
		t.Fatalf("WriteContent() error = %v", err)
	}

	got, err := content.ReadAll(ctx, store, "empty")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ReadAll() returned %d bytes, want 0", len(got))
	}
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	store := suite.NewStore()
	ctx := testContext()

	if err := store.WriteContent(ctx, "gone.txt", []byte("x")); err != nil {
		t.Fatalf("WriteContent() error = %v", err)
	}
	if err := store.Delete(ctx, "gone.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "gone.txt"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}

	_, err := store.ReadContent(ctx, "gone.txt")
	if !errors.Is(err, content.ErrContentNotFound) {
		t.Fatalf("ReadContent() after delete error = %v, want ErrContentNotFound", err)
	}
}

func (suite *StoreTestSuite) testNestedID(t *testing.T) {
	store := suite.NewStore()
	ctx := testContext()

	if err := store.WriteContent(ctx, "docs/readme.md", []byte("# readme")); err != nil {
		t.Fatalf("WriteContent() error = %v", err)
	}

	got, err := content.ReadAll(ctx, store, "docs/readme.md")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "# readme" {
		t.Fatalf("ReadAll() = %q", got)
	}
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	store := suite.NewStore()
	ctx, cancel := context.WithCancel(testContext())
	cancel()

	if _, err := store.ReadContent(ctx, "any"); !errors.Is(err, context.Canceled) {
		t.Fatalf("ReadContent() error = %v, want context.Canceled", err)
	}
	if err := store.WriteContent(ctx, "any", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("WriteContent() error = %v, want context.Canceled", err)
	}
}
