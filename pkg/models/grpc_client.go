package models

import (
	"context"
	"fmt"
	"time"

	"github.com/MrCodeEU/faceservice/pkg/utils"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// InferenceClient talks to the model backend. It implements both the face
// detector and the face recognizer collaborators.
type InferenceClient struct {
	conn    *grpc.ClientConn
	codec   *utils.Codec
	timeout time.Duration
	logger  *logrus.Logger
}

// NewInferenceClient connects to the inference service and verifies it is healthy
func NewInferenceClient(address string, timeout time.Duration, logger *logrus.Logger) (*InferenceClient, error) {
	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for inference service at %s: %w", address, err)
	}

	client, err := NewInferenceClientFromConn(conn, timeout, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return client, nil
}

// NewInferenceClientFromConn wraps an existing connection and runs the health check
func NewInferenceClientFromConn(conn *grpc.ClientConn, timeout time.Duration, logger *logrus.Logger) (*InferenceClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: InferenceServiceName})
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return nil, fmt.Errorf("inference service is not healthy: %s", resp.GetStatus())
	}

	logger.Infof("Connected to inference service on %s", conn.Target())

	return &InferenceClient{
		conn:    conn,
		codec:   utils.NewCodec(),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Close closes the client connection
func (c *InferenceClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Detect runs face detection on a frame
func (c *InferenceClient) Detect(ctx context.Context, frame *utils.Frame) ([]Face, error) {
	if frame.Empty() {
		return []Face{}, nil
	}

	req, err := c.imageRequest(frame)
	if err != nil {
		return nil, err
	}

	resp := new(structpb.Struct)
	if err := c.invoke(ctx, methodDetectFaces, req, resp); err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	faces, err := parseFaces(resp)
	if err != nil {
		return nil, fmt.Errorf("invalid detection response: %w", err)
	}
	c.logger.Debugf("Detected %d face(s) in %dx%d frame", len(faces), frame.Width(), frame.Height())
	return faces, nil
}

// Embed extracts a face embedding. When bbox is set the frame is cropped to
// it first. A nil embedding with a nil error means no face was found.
func (c *InferenceClient) Embed(ctx context.Context, frame *utils.Frame, bbox *BBox) ([]float32, error) {
	if bbox != nil {
		frame = frame.Crop(bbox.X, bbox.Y, bbox.Width, bbox.Height)
	}
	if frame.Empty() {
		return nil, nil
	}

	req, err := c.imageRequest(frame)
	if err != nil {
		return nil, err
	}

	resp := new(structpb.Struct)
	if err := c.invoke(ctx, methodExtractEmbedding, req, resp); err != nil {
		return nil, fmt.Errorf("embedding extraction failed: %w", err)
	}

	embedding, err := parseEmbedding(resp)
	if err != nil {
		return nil, fmt.Errorf("invalid embedding response: %w", err)
	}
	return embedding, nil
}

func (c *InferenceClient) invoke(ctx context.Context, method string, req, resp *structpb.Struct) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.conn.Invoke(ctx, method, req, resp)
}

func (c *InferenceClient) imageRequest(frame *utils.Frame) (*structpb.Struct, error) {
	data, err := c.codec.Encode(frame)
	if err != nil {
		return nil, err
	}

	req, err := structpb.NewStruct(map[string]any{
		"image":  data,
		"width":  frame.Width(),
		"height": frame.Height(),
		"format": "jpeg",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return req, nil
}

func parseFaces(resp *structpb.Struct) ([]Face, error) {
	faces := []Face{}

	list := resp.GetFields()["faces"].GetListValue()
	if list == nil {
		return faces, nil
	}

	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("face %d is not an object", i)
		}

		face := Face{
			BBox: BBox{
				X:      int(fields["x"].GetNumberValue()),
				Y:      int(fields["y"].GetNumberValue()),
				Width:  int(fields["width"].GetNumberValue()),
				Height: int(fields["height"].GetNumberValue()),
			},
			Confidence: fields["confidence"].GetNumberValue(),
		}

		for j, lv := range fields["landmarks"].GetListValue().GetValues() {
			lf := lv.GetStructValue().GetFields()
			index := j
			if t, ok := lf["type"]; ok {
				index = int(t.GetNumberValue())
			}
			face.Landmarks = append(face.Landmarks, NewLandmark(
				int(lf["x"].GetNumberValue()),
				int(lf["y"].GetNumberValue()),
				index,
			))
		}

		face.Normalize()
		faces = append(faces, face)
	}

	return faces, nil
}

func parseEmbedding(resp *structpb.Struct) ([]float32, error) {
	values := resp.GetFields()["embedding"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, nil
	}

	embedding := make([]float32, len(values))
	for i, v := range values {
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
			return nil, fmt.Errorf("embedding value %d is not a number", i)
		}
		embedding[i] = float32(v.GetNumberValue())
	}
	return embedding, nil
}
