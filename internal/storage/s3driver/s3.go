// Package s3driver implements the StorageDriver contract over an
// S3-compatible multipart upload, grounded on the teacher's S3Client /
// FileUploadServer multipart sequence: CreateMultipartUpload at init,
// UploadPart per chunk, CompleteMultipartUpload at finalize.
package s3driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/valyala/bytebufferpool"

	"github.com/torrin-io/torrin/internal/model"
	"github.com/torrin-io/torrin/internal/uploaderrors"
)

// api is the narrow surface of *s3.Client the driver depends on, carved out
// so tests can substitute a hand-rolled fake instead of standing up MinIO.
type api interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// part records one completed S3 part for later ordered assembly at
// CompleteMultipartUpload. Re-uploading an index supersedes the previous
// ETag (last-writer-wins, mirroring the local driver's overwrite rule).
type part struct {
	etag string
	size int64
}

type multipart struct {
	s3UploadID string
	key        string
	mu         sync.Mutex
	parts      map[int]part // index -> part, 0-based
}

// Driver is the S3-compatible multipart StorageDriver.
type Driver struct {
	Client api
	Bucket string

	// KeyPrefix is prepended to every generated object key.
	KeyPrefix string

	// GetObjectKey, when set, overrides the default key computation of
	// <KeyPrefix><YYYY>/<MM>/<uploadId><ext>.
	GetObjectKey func(session *model.Session) string

	mu      sync.Mutex
	uploads map[string]*multipart // uploadID -> multipart state
}

// New constructs an S3 driver against an already-configured *s3.Client
// (path-style addressing and a custom endpoint resolver, if needed, are the
// caller's responsibility per the teacher's NewS3Client setup).
func New(client *s3.Client, bucket string) *Driver {
	return &Driver{
		Client:  client,
		Bucket:  bucket,
		uploads: make(map[string]*multipart),
	}
}

func (d *Driver) objectKey(session *model.Session) string {
	if d.GetObjectKey != nil {
		if key := d.GetObjectKey(session); key != "" {
			return key
		}
	}
	now := session.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	return path.Join(d.KeyPrefix, fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", now.Month()),
		session.UploadID+path.Ext(session.FileName))
}

// InitUpload opens an S3 multipart upload and tracks its id keyed by the
// upload session's id.
func (d *Driver) InitUpload(ctx context.Context, session *model.Session) error {
	key := d.objectKey(session)
	contentType := session.MimeType
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := d.Client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return uploaderrors.Wrap(uploaderrors.StorageError, "failed to create S3 multipart upload", err)
	}

	d.mu.Lock()
	d.uploads[session.UploadID] = &multipart{
		s3UploadID: aws.ToString(out.UploadId),
		key:        key,
		parts:      make(map[int]part),
	}
	d.mu.Unlock()
	return nil
}

func (d *Driver) getMultipart(uploadID string) (*multipart, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mp, ok := d.uploads[uploadID]
	if !ok {
		return nil, uploaderrors.New(uploaderrors.UploadNotFound, "no S3 multipart upload is tracked for this session")
	}
	return mp, nil
}

// WriteChunk buffers the whole chunk in memory (UploadPart requires a
// known-length, seekable body) and verifies its length against expected
// before ever calling S3, deleting nothing on mismatch since nothing was
// uploaded. S3 part numbers are 1-based; index is the 0-based chunk index,
// so partNumber = index+1.
func (d *Driver) WriteChunk(ctx context.Context, session *model.Session, index int, r io.Reader, expected int64, hash string) error {
	mp, err := d.getMultipart(session.UploadID)
	if err != nil {
		return err
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.Reset()
	if _, err := buf.ReadFrom(r); err != nil {
		return uploaderrors.Wrap(uploaderrors.StorageError, "failed to read chunk body", err)
	}
	if int64(buf.Len()) != expected {
		return uploaderrors.New(uploaderrors.ChunkSizeMismatch, "chunk size mismatch").
			WithDetails(map[string]interface{}{"expected": expected, "actual": int64(buf.Len())})
	}

	partNumber := int32(index) + 1
	out, err := d.Client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(d.Bucket),
		Key:           aws.String(mp.key),
		UploadId:      aws.String(mp.s3UploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(expected),
	})
	if err != nil {
		return uploaderrors.Wrap(uploaderrors.StorageError, fmt.Sprintf("failed to upload S3 part %d", partNumber), err)
	}

	mp.mu.Lock()
	mp.parts[index] = part{etag: aws.ToString(out.ETag), size: expected}
	mp.mu.Unlock()
	return nil
}

// FinalizeUpload completes the multipart upload, submitting every received
// part in ascending part-number order. A part never written (a gap) is
// simply omitted; UploadService is responsible for refusing completion
// while chunks are missing, so reaching here with a gap is a caller bug,
// not a condition this driver re-validates.
func (d *Driver) FinalizeUpload(ctx context.Context, session *model.Session) (model.StorageLocation, error) {
	mp, err := d.getMultipart(session.UploadID)
	if err != nil {
		return model.StorageLocation{}, err
	}

	mp.mu.Lock()
	indices := make([]int, 0, len(mp.parts))
	for idx := range mp.parts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	completed := make([]types.CompletedPart, 0, len(indices))
	for _, idx := range indices {
		p := mp.parts[idx]
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.etag),
			PartNumber: aws.Int32(int32(idx) + 1),
		})
	}
	mp.mu.Unlock()

	out, err := d.Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(d.Bucket),
		Key:      aws.String(mp.key),
		UploadId: aws.String(mp.s3UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return model.StorageLocation{}, uploaderrors.Wrap(uploaderrors.StorageError, "failed to complete S3 multipart upload", err)
	}

	d.mu.Lock()
	delete(d.uploads, session.UploadID)
	d.mu.Unlock()

	return model.StorageLocation{
		Type:   "s3",
		Bucket: d.Bucket,
		Key:    mp.key,
		URL:    aws.ToString(out.Location),
		ETag:   aws.ToString(out.ETag),
	}, nil
}

// AbortUpload releases the S3-side multipart upload. An upload id not
// tracked locally (already aborted, or never initialized) is success.
func (d *Driver) AbortUpload(ctx context.Context, session *model.Session) error {
	d.mu.Lock()
	mp, ok := d.uploads[session.UploadID]
	delete(d.uploads, session.UploadID)
	d.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := d.Client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(d.Bucket),
		Key:      aws.String(mp.key),
		UploadId: aws.String(mp.s3UploadID),
	})
	if err != nil {
		return uploaderrors.Wrap(uploaderrors.StorageError, "failed to abort S3 multipart upload", err)
	}
	return nil
}

var _ api = (*s3.Client)(nil)
