package s3storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// memObjects is an in-memory ObjectAPI.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != "audit" {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "no bucket"}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (m *memObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (m *memObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := aws.ToString(in.Key)
	if _, ok := m.objects[key]; ok && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "exists"}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[key] = data
	m.puts++
	return &s3.PutObjectOutput{}, nil
}

func (m *memObjects) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		in      string
		bucket  string
		prefix  string
		wantErr bool
	}{
		{"s3://audit", "audit", "", false},
		{"s3://audit/tenant-a/logs/", "audit", "tenant-a/logs", false},
		{"s3:///nobucket", "", "", true},
		{"/var/logs", "", "", true},
	}
	for _, tt := range tests {
		bucket, prefix, err := ParseURI(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseURI(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if bucket != tt.bucket || prefix != tt.prefix {
			t.Errorf("ParseURI(%q) = %q, %q", tt.in, bucket, prefix)
		}
	}
	if !IsURI("s3://x") || IsURI("./x") {
		t.Error("IsURI misclassified")
	}
}

func TestSaveVersioning(t *testing.T) {
	mem := newMemObjects()
	s := NewWithClient(mem, "audit", "tenant", nil)
	ctx := context.Background()

	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	steps := []struct {
		body      string
		wantPath  string
		duplicate bool
	}{
		{`{"a":1}`, "s3://audit/tenant/abc123.json", false},
		{`{"a":1}`, "s3://audit/tenant/abc123.json", true},
		{`{"a":2}`, "s3://audit/tenant/abc123.1.json", false},
		{`{"a":3}`, "s3://audit/tenant/abc123.2.json", false},
		{`{"a":2}`, "s3://audit/tenant/abc123.1.json", true},
	}
	for i, step := range steps {
		res, err := s.Save(ctx, "abc123", []byte(step.body))
		if err != nil {
			t.Fatalf("step %d: Save failed: %v", i, err)
		}
		if res.Path != step.wantPath || res.Duplicate != step.duplicate {
			t.Errorf("step %d: got %+v, want path %s duplicate %v", i, res, step.wantPath, step.duplicate)
		}
	}

	if mem.puts != 3 {
		t.Errorf("puts = %d, want 3", mem.puts)
	}
	if got := string(mem.objects["tenant/abc123.json"]); got != `{"a":1}` {
		t.Errorf("original overwritten: %q", got)
	}
}

func TestInitMissingBucket(t *testing.T) {
	s := NewWithClient(newMemObjects(), "other", "", nil)
	if err := s.Init(context.Background()); err == nil {
		t.Fatal("expected error for unreachable bucket")
	}
	if s.Location() != "s3://other" {
		t.Errorf("Location = %q", s.Location())
	}
}

func TestSaveComparesVariantsPastAGap(t *testing.T) {
	mem := newMemObjects()
	mem.objects["tenant/x.json"] = []byte("A")
	mem.objects["tenant/x.2.json"] = []byte("B")
	mem.objects["tenant/xy.json"] = []byte("other id")
	s := NewWithClient(mem, "audit", "tenant", nil)
	ctx := context.Background()

	res, err := s.Save(ctx, "x", []byte("B"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Duplicate || res.Path != "s3://audit/tenant/x.2.json" {
		t.Errorf("save of stored body = %+v", res)
	}

	res, err = s.Save(ctx, "x", []byte("C"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate || res.Path != "s3://audit/tenant/x.1.json" {
		t.Errorf("new body = %+v, want x.1.json", res)
	}
	if mem.puts != 1 {
		t.Errorf("puts = %d, want 1", mem.puts)
	}
}

func TestSaveRejectsBadIDs(t *testing.T) {
	mem := newMemObjects()
	s := NewWithClient(mem, "audit", "", nil)
	for _, id := range []string{"", ".", "..", "a/b", `a\b`} {
		if _, err := s.Save(context.Background(), id, []byte("x")); err == nil {
			t.Errorf("Save(%q) should fail", id)
		}
	}
	if mem.puts != 0 {
		t.Errorf("puts = %d for invalid ids", mem.puts)
	}
}

func TestSaveCancelled(t *testing.T) {
	mem := newMemObjects()
	s := NewWithClient(mem, "audit", "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Save(ctx, "id", []byte("x")); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if mem.puts != 0 {
		t.Errorf("puts = %d after cancellation", mem.puts)
	}
}
