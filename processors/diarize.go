package processors

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"meetingSummarize/core"
)

// DiarizeMethod is the unary RPC served by the diarization sidecar.
const DiarizeMethod = "/diarization.v1.Diarizer/Diarize"

// GRPCDiarizer asks a pyannote sidecar for speaker turns. Messages travel as
// google.protobuf.Struct so the sidecar needs no shared generated code.
type GRPCDiarizer struct {
	conn *grpc.ClientConn
}

func NewGRPCDiarizer(addr string, opts ...grpc.DialOption) (*GRPCDiarizer, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create diarization client: %w", err)
	}
	return &GRPCDiarizer{conn: conn}, nil
}

func (d *GRPCDiarizer) Close() error {
	return d.conn.Close()
}

func (d *GRPCDiarizer) Diarize(ctx context.Context, audioRef string, minSpeakers, maxSpeakers int) (core.Diarization, error) {
	if minSpeakers > maxSpeakers {
		return core.Diarization{}, fmt.Errorf("min speakers %d exceeds max speakers %d", minSpeakers, maxSpeakers)
	}
	req, err := structpb.NewStruct(map[string]any{
		"audio_ref":    audioRef,
		"min_speakers": minSpeakers,
		"max_speakers": maxSpeakers,
	})
	if err != nil {
		return core.Diarization{}, fmt.Errorf("build diarization request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := d.conn.Invoke(ctx, DiarizeMethod, req, resp); err != nil {
		return core.Diarization{}, fmt.Errorf("diarization rpc: %w", err)
	}
	return decodeDiarization(resp)
}

// decodeDiarization reads {"segments":[{"speaker","start","end"}], "speakers":[...]}.
// Turns keep the sidecar's order, which decides merge ties; speakers default
// to first-seen order.
func decodeDiarization(resp *structpb.Struct) (core.Diarization, error) {
	segField, ok := resp.GetFields()["segments"]
	if !ok {
		return core.Diarization{}, errors.New("diarization response has no segments")
	}
	var turns []core.DiarizationTurn
	for i, v := range segField.GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		speaker := f["speaker"].GetStringValue()
		if speaker == "" {
			return core.Diarization{}, fmt.Errorf("diarization turn %d has no speaker", i)
		}
		start, end := f["start"].GetNumberValue(), f["end"].GetNumberValue()
		if end < start {
			return core.Diarization{}, fmt.Errorf("diarization turn %d ends before it starts", i)
		}
		turns = append(turns, core.NewDiarizationTurn(speaker, start, end))
	}

	var speakers []string
	for _, v := range resp.GetFields()["speakers"].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" && !slices.Contains(speakers, s) {
			speakers = append(speakers, s)
		}
	}
	if len(speakers) == 0 {
		for _, t := range turns {
			if !slices.Contains(speakers, t.Speaker) {
				speakers = append(speakers, t.Speaker)
			}
		}
	}
	return core.Diarization{Speakers: speakers, Segments: turns}, nil
}

// NoopDiarizer reports no speaker turns, so every segment is attributed to Unknown.
type NoopDiarizer struct{}

func (NoopDiarizer) Diarize(ctx context.Context, audioRef string, minSpeakers, maxSpeakers int) (core.Diarization, error) {
	return core.Diarization{Speakers: []string{}, Segments: []core.DiarizationTurn{}}, nil
}
