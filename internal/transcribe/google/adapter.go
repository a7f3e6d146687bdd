// Package google adapts Google Cloud Speech-to-Text streaming
// recognition to the transcribe backend seam.
package google

import (
	"context"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"

	"github.com/voicegate/voicegate/internal/transcribe"
)

// Backend implements transcribe.Backend using Google Cloud
// Speech-to-Text. Requires GOOGLE_APPLICATION_CREDENTIALS in the
// environment. One recognition stream is opened per utterance; streams
// are never pooled or shared across connections.
type Backend struct {
	client *speech.Client
	region string
}

// New creates the backend. A non-empty region pins the regional
// endpoint (e.g. "eu" -> eu-speech.googleapis.com); empty uses the
// global endpoint.
func New(ctx context.Context, region string) (*Backend, error) {
	var opts []option.ClientOption
	if region != "" {
		opts = append(opts, option.WithEndpoint(region+"-speech.googleapis.com:443"))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Backend{client: client, region: region}, nil
}

func (b *Backend) Name() string { return "google" }

// OpenStream starts a streaming recognition session and sends the
// required config message before any audio.
func (b *Backend) OpenStream(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.BackendStream, error) {
	stream, err := b.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("open streaming recognize: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(cfg.SampleRateHertz),
					LanguageCode:    cfg.LanguageCode,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("send streaming config: %w", err)
	}

	return &recognizeStream{stream: stream}, nil
}

// Close releases the underlying client.
func (b *Backend) Close() error {
	return b.client.Close()
}

type recognizeStream struct {
	stream speechpb.Speech_StreamingRecognizeClient

	// Responses can carry several results; surplus results queue here
	// so Recv yields them one at a time in order.
	pending []transcribe.Result
}

func (s *recognizeStream) Send(audio []byte) error {
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

func (s *recognizeStream) CloseSend() error {
	return s.stream.CloseSend()
}

func (s *recognizeStream) Recv() (transcribe.Result, error) {
	for len(s.pending) == 0 {
		resp, err := s.stream.Recv()
		if err != nil {
			if err == io.EOF {
				return transcribe.Result{}, io.EOF
			}
			if st, ok := status.FromError(err); ok {
				return transcribe.Result{}, fmt.Errorf("recognize stream: %s: %s", st.Code(), st.Message())
			}
			return transcribe.Result{}, fmt.Errorf("recognize stream: %w", err)
		}
		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			s.pending = append(s.pending, transcribe.Result{
				Text:  r.Alternatives[0].Transcript,
				Final: r.IsFinal,
			})
		}
	}

	res := s.pending[0]
	s.pending = s.pending[1:]
	return res, nil
}
