package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sttcompare/gateway/internal/apierr"
	"github.com/sttcompare/gateway/internal/audio"
)

// Batch retry limits.
const (
	maxBatchAttempts = 3
	batchHardCap     = 5 * time.Minute
	batchIdleCap     = 30 * time.Second
)

var pooledBatchClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	},
}

// isRetryableStatus reports whether an HTTP status is transient:
// {408, 429, 5xx}.
func isRetryableStatus(status int) bool {
	return status == 408 || status == 429 || status >= 500
}

// transcribeFileFromPCMViaBatch encodes pcm as WAV, per
// internal/audio/wav.go's encoder, and POSTs it with bounded exponential
// backoff + jitter, retrying only transient statuses and network errors,
// hard-capped at batchHardCap with a per-attempt idle cap of
// batchIdleCap, and at most maxBatchAttempts tries.
func transcribeFileFromPCMViaBatch(ctx context.Context, endpoint, apiKey string, pcm []byte, opts StreamingOptions) (*BatchResult, error) {
	samples := bytesToFloat32(pcm)
	wav := audio.SamplesToWAV(samples, opts.SampleRate)

	ctx, cancel := context.WithTimeout(ctx, batchHardCap)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = batchHardCap
	withCtx := backoff.WithContext(bo, ctx)
	attemptLimited := backoff.WithMaxRetries(withCtx, maxBatchAttempts-1)

	var result *BatchResult
	op := func() error {
		res, err := postBatch(ctx, endpoint, apiKey, wav)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	if err := backoff.Retry(op, attemptLimited); err != nil {
		return nil, classifyBatchError(err)
	}
	return result, nil
}

func postBatch(ctx context.Context, endpoint, apiKey string, wav []byte) (*BatchResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, batchIdleCap)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(wav))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("batch: build request: %w", err))
	}
	req.Header.Set("Content-Type", "audio/wav")
	if apiKey != "" {
		req.Header.Set("Authorization", "Token "+apiKey)
	}

	resp, err := pooledBatchClient.Do(req)
	if err != nil {
		// Network errors are retryable.
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		if isRetryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("batch: status %d: %s", resp.StatusCode, body)
		}
		return nil, backoff.Permanent(fmt.Errorf("batch: status %d: %s", resp.StatusCode, body))
	}

	text, words := extractBatchTranscript(body)
	return &BatchResult{Text: text, Words: words}, nil
}

func classifyBatchError(err error) error {
	var perm *backoff.PermanentError
	if asPermanent(err, &perm) {
		return apierr.New(apierr.Fatal, "batch.transcribe", perm.Err)
	}
	return apierr.New(apierr.Retryable, "batch.transcribe", err)
}

func asPermanent(err error, target **backoff.PermanentError) bool {
	pe, ok := err.(*backoff.PermanentError)
	if ok {
		*target = pe
	}
	return ok
}

func bytesToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		lo := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(lo) / 32768.0
	}
	return out
}
