/*
Package s3 adapts S3-compatible services to the objectstore interfaces.

FTP users log in with an access key id and secret key. Buckets are presented as
top-level containers and keys as paths within them:

	backend := s3.NewBackend(s3.Options{
		Endpoint:     "http://minio.local:9000",
		Region:       "us-east-1",
		UsePathStyle: true,
	})
	creds, err := backend.Authenticate(ctx, accessKey, secretKey)
	store, err := backend.Connect(ctx, accessKey, secretKey, creds)

# Large Objects

S3 has no dynamic large objects. A manifest is stored as an empty object with
the metadata key object-manifest set to "container/prefix"; HEAD reports the
summed size of the segments and GET streams them in name order.

# Differences from Swift

  - Bucket object counts and sizes are computed by listing the bucket.
  - Listings carry no content type; empty objects are probed with HEAD so
    directory markers keep the application/directory type.
  - Deletes of missing keys report 404 after a HEAD, as Swift does.
*/
package s3
