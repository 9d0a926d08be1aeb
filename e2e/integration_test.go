//go:build e2e

// Package e2e contains end-to-end integration tests using a real DynamoDB
// table. Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/prism/dynamo"
	"github.com/jacentio/prism/store"
)

// Test configuration
const (
	awsProfile = "jacent-alpha-cp"

	// Table name - unique per test run to avoid conflicts
	tablePrefix = "prism-e2e-test"

	// Poll interval kept short so watch tests settle quickly
	pollInterval = 100 * time.Millisecond
)

var (
	testID    string
	tableName string

	ddbClient *dynamodb.Client
	testStore *store.Store
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	tableName = fmt.Sprintf("%s-%s", tablePrefix, testID)

	fmt.Printf("Test ID: %s\n", testID)
	fmt.Printf("Table: %s\n", tableName)

	// Initialize AWS client (uses region from profile config)
	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(awsProfile),
	)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}

	ddbClient = dynamodb.NewFromConfig(cfg)

	if err := createTable(ctx); err != nil {
		fmt.Printf("Failed to create table: %v\n", err)
		os.Exit(1)
	}

	conn := dynamo.New(ddbClient, dynamo.Config{
		Table:        tableName,
		NumShards:    4,
		PollInterval: pollInterval,
	})
	testStore = store.New(conn, store.Config{})

	code := m.Run()

	testStore.Close()
	if err := deleteTable(ctx); err != nil {
		fmt.Printf("Failed to delete table: %v\n", err)
	}

	os.Exit(code)
}

func createTable(ctx context.Context) error {
	fmt.Println("Creating test table...")

	_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(ddbClient)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", tableName, err)
	}

	fmt.Println("Table created and active")
	return nil
}

func deleteTable(ctx context.Context) error {
	fmt.Println("Deleting test table...")
	_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return fmt.Errorf("delete table %s: %w", tableName, err)
	}
	return nil
}

// testCollection returns a collection name unique to this test, so tests
// can list and watch without seeing each other's documents.
func testCollection(t *testing.T, base string) string {
	t.Helper()
	return fmt.Sprintf("%s_%s", base, uuid.New().String()[:8])
}

// --- CRUD Tests ---

func TestCreate_AssignsID(t *testing.T) {
	ctx := context.Background()
	users := testCollection(t, "users")

	doc, err := testStore.Create(ctx, users, store.Document{
		"name": "Ada Lovelace",
		"age":  int64(36),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	id, ok := doc[store.IDField].(string)
	if !ok || id == "" {
		t.Fatalf("expected assigned id, got %v", doc[store.IDField])
	}

	got, err := testStore.Read(ctx, users+"/"+id)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected document after create")
	}
	if got["name"] != "Ada Lovelace" {
		t.Errorf("expected name 'Ada Lovelace', got %v", got["name"])
	}
	if got[store.IDField] != id {
		t.Errorf("expected id %q merged into read, got %v", id, got[store.IDField])
	}
}

func TestRead_NotFound(t *testing.T) {
	ctx := context.Background()
	users := testCollection(t, "users")

	doc, err := testStore.Read(ctx, users+"/missing")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil for missing document, got %v", doc)
	}
}

func TestSet_CreatesAndOverwrites(t *testing.T) {
	ctx := context.Background()
	path := testCollection(t, "users") + "/u1"

	if err := testStore.Set(ctx, path, store.Document{"name": "First", "tier": "free"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := testStore.Set(ctx, path, store.Document{"name": "Second"}); err != nil {
		t.Fatalf("Set overwrite failed: %v", err)
	}

	doc, err := testStore.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if doc["name"] != "Second" {
		t.Errorf("expected overwrite, got %v", doc["name"])
	}
	if _, ok := doc["tier"]; ok {
		t.Errorf("expected full overwrite to drop tier, got %v", doc["tier"])
	}
}

func TestUpdate_MergesFields(t *testing.T) {
	ctx := context.Background()
	path := testCollection(t, "users") + "/u1"

	if err := testStore.Set(ctx, path, store.Document{"name": "Ada", "tier": "free"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := testStore.Update(ctx, path, store.Document{"tier": "pro"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	doc, err := testStore.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if doc["name"] != "Ada" {
		t.Errorf("expected name preserved, got %v", doc["name"])
	}
	if doc["tier"] != "pro" {
		t.Errorf("expected tier merged, got %v", doc["tier"])
	}
}

func TestUpdate_NotFound(t *testing.T) {
	ctx := context.Background()
	path := testCollection(t, "users") + "/missing"

	err := testStore.Update(ctx, path, store.Document{"tier": "pro"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_Increment(t *testing.T) {
	ctx := context.Background()
	path := testCollection(t, "counters") + "/c1"

	if err := testStore.Set(ctx, path, store.Document{"hits": int64(10)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := testStore.Update(ctx, path, store.Document{"hits": store.Increment(5)}); err != nil {
		t.Fatalf("Update with increment failed: %v", err)
	}

	doc, err := testStore.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got, want := doc["hits"], 15.0; got != want {
		// attributevalue decodes numbers as float64
		t.Errorf("expected hits %v, got %v (%T)", want, got, got)
	}
}

func TestUpdate_DeleteField(t *testing.T) {
	ctx := context.Background()
	path := testCollection(t, "users") + "/u1"

	if err := testStore.Set(ctx, path, store.Document{"name": "Ada", "tmp": "x"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := testStore.Update(ctx, path, store.Document{"tmp": store.DeleteField()}); err != nil {
		t.Fatalf("Update with delete failed: %v", err)
	}

	doc, err := testStore.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if _, ok := doc["tmp"]; ok {
		t.Errorf("expected tmp removed, got %v", doc["tmp"])
	}
}

func TestDelete_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := testCollection(t, "users") + "/u1"

	if err := testStore.Set(ctx, path, store.Document{"name": "Ada"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := testStore.Delete(ctx, path); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// Deleting again must not error
	if err := testStore.Delete(ctx, path); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}

	doc, err := testStore.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if doc != nil {
		t.Errorf("expected document gone, got %v", doc)
	}
}

// --- Query Tests ---

func seedUsers(t *testing.T, ctx context.Context, users string) {
	t.Helper()
	rows := []struct {
		id   string
		name string
		age  int64
	}{
		{"u1", "Ada", 36},
		{"u2", "Barbara", 42},
		{"u3", "Grace", 85},
		{"u4", "Hedy", 28},
	}
	for _, r := range rows {
		if err := testStore.Set(ctx, users+"/"+r.id, store.Document{"name": r.name, "age": r.age}); err != nil {
			t.Fatalf("seed %s: %v", r.id, err)
		}
	}
}

func TestListAll_IDOrder(t *testing.T) {
	ctx := context.Background()
	users := testCollection(t, "users")
	seedUsers(t, ctx, users)

	docs, err := testStore.ListAll(ctx, users, store.ListOptions{})
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(docs) != 4 {
		t.Fatalf("expected 4 documents, got %d", len(docs))
	}
	for i, want := range []string{"u1", "u2", "u3", "u4"} {
		if docs[i][store.IDField] != want {
			t.Errorf("position %d: expected %s, got %v", i, want, docs[i][store.IDField])
		}
	}
}

func TestQuery_FilterOrderLimit(t *testing.T) {
	ctx := context.Background()
	users := testCollection(t, "users")
	seedUsers(t, ctx, users)

	docs, err := testStore.Query(users).
		Where("age", ">=", 36).
		OrderBy("age", store.Desc).
		Limit(2).
		Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0]["name"] != "Grace" || docs[1]["name"] != "Barbara" {
		t.Errorf("expected [Grace Barbara], got [%v %v]", docs[0]["name"], docs[1]["name"])
	}
}

func TestQuery_Pagination(t *testing.T) {
	ctx := context.Background()
	users := testCollection(t, "users")
	seedUsers(t, ctx, users)

	var all []string
	var cursor any
	for page := 0; ; page++ {
		q := testStore.Query(users).Limit(2)
		if cursor != nil {
			q = q.StartAfter(cursor)
		}
		docs, err := q.Fetch(ctx)
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		if len(docs) == 0 {
			break
		}
		for _, d := range docs {
			all = append(all, d[store.IDField].(string))
		}
		cursor = docs[len(docs)-1][store.IDField]
	}

	want := []string{"u1", "u2", "u3", "u4"}
	if len(all) != len(want) {
		t.Fatalf("expected %d ids across pages, got %v", len(want), all)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], all[i])
		}
	}
}

// --- Transaction Tests ---

func TestTransact_AtomicTransfer(t *testing.T) {
	ctx := context.Background()
	accounts := testCollection(t, "accounts")

	if err := testStore.Set(ctx, accounts+"/a", store.Document{"balance": int64(100)}); err != nil {
		t.Fatal(err)
	}
	if err := testStore.Set(ctx, accounts+"/b", store.Document{"balance": int64(0)}); err != nil {
		t.Fatal(err)
	}

	err := testStore.Transact(ctx, func(tx *store.Tx) error {
		docs, err := tx.ReadAll([]string{accounts + "/a", accounts + "/b"})
		if err != nil {
			return err
		}
		from := docs[0]["balance"].(float64)
		to := docs[1]["balance"].(float64)
		if err := tx.Set(accounts+"/a", store.Document{"balance": from - 40}); err != nil {
			return err
		}
		return tx.Set(accounts+"/b", store.Document{"balance": to + 40})
	})
	if err != nil {
		t.Fatalf("Transact failed: %v", err)
	}

	a, _ := testStore.Read(ctx, accounts+"/a")
	b, _ := testStore.Read(ctx, accounts+"/b")
	if a["balance"] != 60.0 || b["balance"] != 40.0 {
		t.Errorf("expected balances 60/40, got %v/%v", a["balance"], b["balance"])
	}
}

func TestTransact_AbortDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	path := testCollection(t, "users") + "/u1"

	if err := testStore.Set(ctx, path, store.Document{"name": "Ada"}); err != nil {
		t.Fatal(err)
	}

	wantErr := errors.New("abort")
	err := testStore.Transact(ctx, func(tx *store.Tx) error {
		if err := tx.Set(path, store.Document{"name": "Changed"}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected abort error, got %v", err)
	}

	doc, err := testStore.Read(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if doc["name"] != "Ada" {
		t.Errorf("expected write discarded, got %v", doc["name"])
	}
}

func TestTransact_ReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	path := testCollection(t, "users") + "/u1"

	err := testStore.Transact(ctx, func(tx *store.Tx) error {
		if err := tx.Set(path, store.Document{"name": "Ada"}); err != nil {
			return err
		}
		_, err := tx.Read(path)
		return err
	})
	if !errors.Is(err, store.ErrReadAfterWrite) {
		t.Errorf("expected ErrReadAfterWrite, got %v", err)
	}
}

func TestTransact_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	path := testCollection(t, "counters") + "/c1"

	if err := testStore.Set(ctx, path, store.Document{"n": int64(0)}); err != nil {
		t.Fatal(err)
	}

	const workers = 5
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = testStore.Transact(ctx, func(tx *store.Tx) error {
				doc, err := tx.Read(path)
				if err != nil {
					return err
				}
				n := doc["n"].(float64)
				return tx.Set(path, store.Document{"n": n + 1})
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, store.ErrConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}

	doc, err := testStore.Read(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc["n"].(float64); got != float64(succeeded) {
		t.Errorf("expected counter %d after %d committed transactions, got %v", succeeded, succeeded, got)
	}
}

// --- Mirror Tests ---

func TestMirror_ReadsPrimary(t *testing.T) {
	ctx := context.Background()
	users := testCollection(t, "users")
	directory := testCollection(t, "directory")

	if err := testStore.Set(ctx, users+"/u1", store.Document{"name": "Ada"}); err != nil {
		t.Fatal(err)
	}

	mirrors := []string{directory + "/u1"}
	if err := testStore.Mirror(ctx, users+"/u1", mirrors, nil); err != nil {
		t.Fatalf("Mirror failed: %v", err)
	}

	doc, err := testStore.Read(ctx, directory+"/u1")
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil || doc["name"] != "Ada" {
		t.Errorf("expected mirrored document, got %v", doc)
	}
}

func TestMirror_MissingPrimary(t *testing.T) {
	ctx := context.Background()
	users := testCollection(t, "users")
	directory := testCollection(t, "directory")

	err := testStore.Mirror(ctx, users+"/missing", []string{directory + "/missing"}, nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	doc, _ := testStore.Read(ctx, directory+"/missing")
	if doc != nil {
		t.Errorf("expected no mirror written, got %v", doc)
	}
}

func TestCreateAndMirror_Atomic(t *testing.T) {
	ctx := context.Background()
	users := testCollection(t, "users")
	directory := testCollection(t, "directory")

	doc, err := testStore.CreateAndMirror(ctx, users, store.Document{"name": "Ada"},
		[]string{directory + "/:id"})
	if err != nil {
		t.Fatalf("CreateAndMirror failed: %v", err)
	}
	id := doc[store.IDField].(string)

	primary, err := testStore.Read(ctx, users+"/"+id)
	if err != nil {
		t.Fatal(err)
	}
	mirror, err := testStore.Read(ctx, directory+"/"+id)
	if err != nil {
		t.Fatal(err)
	}
	if primary == nil || mirror == nil {
		t.Fatalf("expected primary and mirror, got %v / %v", primary, mirror)
	}
	if mirror["name"] != "Ada" || mirror[store.IDField] != id {
		t.Errorf("expected mirror to carry document with id, got %v", mirror)
	}
}

func TestMultiUpdate_PartialFailure(t *testing.T) {
	ctx := context.Background()
	users := testCollection(t, "users")

	if err := testStore.Set(ctx, users+"/u1", store.Document{"tier": "free"}); err != nil {
		t.Fatal(err)
	}

	err := testStore.MultiUpdate(ctx, []string{users + "/u1", users + "/missing"},
		store.Document{"tier": "pro"})

	var partial *store.PartialError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialError, got %v", err)
	}
	if got := partial.FailedPaths(); len(got) != 1 || got[0] != users+"/missing" {
		t.Errorf("expected failed path %s, got %v", users+"/missing", got)
	}

	// The sibling update still landed
	doc, err := testStore.Read(ctx, users+"/u1")
	if err != nil {
		t.Fatal(err)
	}
	if doc["tier"] != "pro" {
		t.Errorf("expected sibling update applied, got %v", doc["tier"])
	}
}

// --- Watch Tests ---

func TestWatch_DocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	path := testCollection(t, "users") + "/u1"

	type emission struct {
		doc store.Document
		err error
	}
	emissions := make(chan emission, 16)

	stop, err := testStore.Watch(path).Subscribe(func(doc store.Document, err error) {
		emissions <- emission{doc, err}
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer stop()

	waitFor := func(desc string, ok func(store.Document) bool) {
		t.Helper()
		deadline := time.After(10 * time.Second)
		for {
			select {
			case e := <-emissions:
				if e.err != nil {
					t.Fatalf("%s: emission error: %v", desc, e.err)
				}
				if ok(e.doc) {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %s", desc)
			}
		}
	}

	// Initial emission: document absent
	waitFor("initial nil", func(d store.Document) bool { return d == nil })

	if err := testStore.Set(ctx, path, store.Document{"name": "Ada"}); err != nil {
		t.Fatal(err)
	}
	waitFor("create", func(d store.Document) bool { return d != nil && d["name"] == "Ada" })

	if err := testStore.Update(ctx, path, store.Document{"name": "Countess"}); err != nil {
		t.Fatal(err)
	}
	waitFor("update", func(d store.Document) bool { return d != nil && d["name"] == "Countess" })

	if err := testStore.Delete(ctx, path); err != nil {
		t.Fatal(err)
	}
	waitFor("delete", func(d store.Document) bool { return d == nil })
}

func TestWatchAll_ResultSetUpdates(t *testing.T) {
	ctx := context.Background()
	users := testCollection(t, "users")

	if err := testStore.Set(ctx, users+"/u1", store.Document{"name": "Ada"}); err != nil {
		t.Fatal(err)
	}

	sets := make(chan []store.Document, 16)
	stop, err := testStore.WatchAll(users, store.ListOptions{}).Subscribe(func(docs []store.Document, err error) {
		if err != nil {
			t.Errorf("emission error: %v", err)
			return
		}
		sets <- docs
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer stop()

	waitForLen := func(n int) {
		t.Helper()
		deadline := time.After(10 * time.Second)
		for {
			select {
			case docs := <-sets:
				if len(docs) == n {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for result set of %d", n)
			}
		}
	}

	waitForLen(1)

	if err := testStore.Set(ctx, users+"/u2", store.Document{"name": "Grace"}); err != nil {
		t.Fatal(err)
	}
	waitForLen(2)

	if err := testStore.Delete(ctx, users+"/u1"); err != nil {
		t.Fatal(err)
	}
	waitForLen(1)
}

func TestWatch_StopEndsDelivery(t *testing.T) {
	ctx := context.Background()
	path := testCollection(t, "users") + "/u1"

	var mu sync.Mutex
	count := 0
	stop, err := testStore.Watch(path).Subscribe(func(store.Document, error) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Let the initial emission land, then cancel
	time.Sleep(5 * pollInterval)
	stop()
	mu.Lock()
	after := count
	mu.Unlock()

	if err := testStore.Set(ctx, path, store.Document{"name": "Ada"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * pollInterval)

	mu.Lock()
	final := count
	mu.Unlock()
	if final != after {
		t.Errorf("expected no delivery after stop, count went %d -> %d", after, final)
	}
}
