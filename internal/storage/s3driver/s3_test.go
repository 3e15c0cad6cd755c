package s3driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/torrin-io/torrin/internal/model"
	"github.com/torrin-io/torrin/internal/uploaderrors"
)

// fakeS3 stands in for *s3.Client in tests, recording multipart calls
// in-memory instead of talking to MinIO/S3.
type fakeS3 struct {
	mu              sync.Mutex
	nextUpload      int
	aborted         []string
	completed       []types.CompletedPart
	failUpload      bool
	createCalls     int
	uploadPartCalls int
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.nextUpload++
	id := fmt.Sprintf("mpu-%d", f.nextUpload)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.mu.Lock()
	f.uploadPartCalls++
	f.mu.Unlock()
	if f.failUpload {
		return nil, fmt.Errorf("simulated upload failure")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	etag := fmt.Sprintf("etag-%d-%d", aws.ToInt32(in.PartNumber), len(data))
	return &s3.UploadPartOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = in.MultipartUpload.Parts
	return &s3.CompleteMultipartUploadOutput{
		Location: aws.String("https://example-bucket.s3.amazonaws.com/" + aws.ToString(in.Key)),
		ETag:     aws.String("final-etag"),
	}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, aws.ToString(in.UploadId))
	return nil, nil
}

func testSession(uploadID, fileName string) *model.Session {
	return &model.Session{UploadID: uploadID, FileName: fileName, TotalChunks: 3}
}

func newDriver(f *fakeS3) *Driver {
	return &Driver{Client: f, Bucket: "uploads", uploads: make(map[string]*multipart)}
}

func TestS3DriverHappyPath(t *testing.T) {
	f := &fakeS3{}
	d := newDriver(f)
	session := testSession("u_abc", "clip.mp4")

	require.NoError(t, d.InitUpload(context.Background(), session))
	require.Equal(t, 1, f.createCalls)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.WriteChunk(context.Background(), session, i, bytes.NewReader([]byte("chunk-data")), 10, ""))
	}

	loc, err := d.FinalizeUpload(context.Background(), session)
	require.NoError(t, err)
	require.Equal(t, "s3", loc.Type)
	require.Equal(t, "uploads", loc.Bucket)
	require.NotEmpty(t, loc.URL)

	require.Len(t, f.completed, 3)
	var partNumbers []int
	for _, p := range f.completed {
		partNumbers = append(partNumbers, int(aws.ToInt32(p.PartNumber)))
	}
	sort.Ints(partNumbers)
	require.Equal(t, []int{1, 2, 3}, partNumbers)
}

func TestS3DriverOutOfOrderPartsSortedOnFinalize(t *testing.T) {
	f := &fakeS3{}
	d := newDriver(f)
	session := testSession("u_def", "a.bin")
	require.NoError(t, d.InitUpload(context.Background(), session))

	for _, idx := range []int{2, 0, 1} {
		require.NoError(t, d.WriteChunk(context.Background(), session, idx, bytes.NewReader([]byte("x")), 1, ""))
	}

	_, err := d.FinalizeUpload(context.Background(), session)
	require.NoError(t, err)
	require.Equal(t, int32(1), aws.ToInt32(f.completed[0].PartNumber))
	require.Equal(t, int32(2), aws.ToInt32(f.completed[1].PartNumber))
	require.Equal(t, int32(3), aws.ToInt32(f.completed[2].PartNumber))
}

func TestS3DriverOverwritePartSupersedesETag(t *testing.T) {
	f := &fakeS3{}
	d := newDriver(f)
	session := testSession("u_ghi", "a.bin")
	require.NoError(t, d.InitUpload(context.Background(), session))

	require.NoError(t, d.WriteChunk(context.Background(), session, 0, bytes.NewReader([]byte("first-longer-data")), 17, ""))
	require.NoError(t, d.WriteChunk(context.Background(), session, 0, bytes.NewReader([]byte("second")), 6, ""))

	_, err := d.FinalizeUpload(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, f.completed, 1)
	require.Contains(t, aws.ToString(f.completed[0].ETag), "-6")
}

func TestS3DriverWriteChunkWithoutInitFails(t *testing.T) {
	f := &fakeS3{}
	d := newDriver(f)
	session := testSession("u_missing", "a.bin")

	err := d.WriteChunk(context.Background(), session, 0, bytes.NewReader([]byte("x")), 1, "")
	require.Error(t, err)
	e, ok := uploaderrors.As(err)
	require.True(t, ok)
	require.Equal(t, uploaderrors.UploadNotFound, e.Code)
}

func TestS3DriverAbortReleasesTrackedUpload(t *testing.T) {
	f := &fakeS3{}
	d := newDriver(f)
	session := testSession("u_jkl", "a.bin")
	require.NoError(t, d.InitUpload(context.Background(), session))

	require.NoError(t, d.AbortUpload(context.Background(), session))
	require.Len(t, f.aborted, 1)

	require.NoError(t, d.AbortUpload(context.Background(), session))
	require.Len(t, f.aborted, 1)
}

func TestS3DriverWriteChunkSizeMismatchRejectsBeforeUploading(t *testing.T) {
	f := &fakeS3{}
	d := newDriver(f)
	session := testSession("u_pqr", "a.bin")
	require.NoError(t, d.InitUpload(context.Background(), session))

	err := d.WriteChunk(context.Background(), session, 0, bytes.NewReader([]byte("short")), 10, "")
	require.Error(t, err)
	e, ok := uploaderrors.As(err)
	require.True(t, ok)
	require.Equal(t, uploaderrors.ChunkSizeMismatch, e.Code)
	require.Equal(t, 0, f.uploadPartCalls)
}

func TestS3DriverUploadPartFailurePropagates(t *testing.T) {
	f := &fakeS3{failUpload: true}
	d := newDriver(f)
	session := testSession("u_mno", "a.bin")
	require.NoError(t, d.InitUpload(context.Background(), session))

	err := d.WriteChunk(context.Background(), session, 0, bytes.NewReader([]byte("x")), 1, "")
	require.Error(t, err)
	e, ok := uploaderrors.As(err)
	require.True(t, ok)
	require.Equal(t, uploaderrors.StorageError, e.Code)
}
