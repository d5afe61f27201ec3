package resource

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/loomdev/loom/pkg/httpx"
)

// S3API is the slice of the S3 client the resource needs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Resource streams an object from S3 using ranged GetObject calls,
// one range per response chunk.
type S3Resource struct {
	Client    S3API
	Bucket    string
	Key       string
	ChunkSize int64
}

// NewS3Resource creates an S3 resource with the default chunk size.
func NewS3Resource(client S3API, bucket, key string) *S3Resource {
	return &S3Resource{Client: client, Bucket: bucket, Key: key, ChunkSize: DefaultChunkSize}
}

type s3Pos struct {
	Offset int64
	Size   int64
}

// Serve fetches and writes the next byte range of the object.
func (r *S3Resource) Serve(ctx context.Context, req *Request, resp *httpx.Response) (any, error) {
	chunk := r.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	var pos *s3Pos
	if req.Continuation != nil {
		pos = req.Continuation.(*s3Pos)
	} else {
		head, err := r.Client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(r.Bucket),
			Key:    aws.String(r.Key),
		})
		if err != nil {
			return nil, fmt.Errorf("resource: head s3://%s/%s: %w", r.Bucket, r.Key, err)
		}
		pos = &s3Pos{Size: aws.ToInt64(head.ContentLength)}
		if head.ContentType != nil {
			resp.SetHeader("Content-Type", *head.ContentType)
		}
		resp.SetHeader("Content-Length", strconv.FormatInt(pos.Size, 10))
	}

	if pos.Size == 0 {
		return nil, nil
	}

	end := pos.Offset + chunk - 1
	if end >= pos.Size {
		end = pos.Size - 1
	}
	out, err := r.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.Key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", pos.Offset, end)),
	})
	if err != nil {
		return nil, fmt.Errorf("resource: get s3://%s/%s: %w", r.Bucket, r.Key, err)
	}
	defer out.Body.Close()

	n, err := io.Copy(resp, out.Body)
	if err != nil {
		return nil, err
	}
	pos.Offset += n
	if pos.Offset < pos.Size {
		return pos, nil
	}
	return nil, nil
}
