package source

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// emptyPayloadHash is the SHA-256 of an empty body, signed for every GET.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// s3Signer signs S3 requests. Object keys are already URI-safe, and S3 wants
// the path signed as sent.
var s3Signer = v4.NewSigner(func(o *v4.SignerOptions) {
	o.DisableURIPathEscaping = true
})

// signRequest adds AWS Signature Version 4 headers to a body-less request.
func signRequest(ctx context.Context, req *http.Request, creds Credentials, region string, now time.Time) error {
	req.Header.Set("X-Amz-Content-Sha256", emptyPayloadHash)

	return s3Signer.SignHTTP(ctx, aws.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}, req, emptyPayloadHash, "s3", region, now)
}
