// Package s3 provides an AWS S3 blobstore.Store using the AWS SDK v2.
package s3
