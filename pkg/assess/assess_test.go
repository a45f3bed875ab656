package assess

//go:generate mockgen -source=assess.go -destination=mocks/mocks.go -package=mocks Predictor,Recorder,Observer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/mchmarny/dermai/pkg/assess/mocks"
	"github.com/mchmarny/dermai/pkg/classifier"
	"github.com/mchmarny/dermai/pkg/data"
	"github.com/mchmarny/dermai/pkg/imaging"
	"github.com/mchmarny/dermai/pkg/lesion"
	"github.com/mchmarny/dermai/pkg/scoring"
	"github.com/mchmarny/dermai/pkg/tensor"
)

type AssessorSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	predictor *mocks.MockPredictor
	recorder  *mocks.MockRecorder
	observer  *mocks.MockObserver
	assessor  *Assessor
	image     []byte
}

func TestAssessorSuite(t *testing.T) {
	suite.Run(t, new(AssessorSuite))
}

func (s *AssessorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.predictor = mocks.NewMockPredictor(s.ctrl)
	s.recorder = mocks.NewMockRecorder(s.ctrl)
	s.observer = mocks.NewMockObserver(s.ctrl)

	var err error
	s.assessor, err = New(imaging.NewPreprocessor(8), s.predictor,
		WithRecorder(s.recorder),
		WithObserver(s.observer),
		WithModelRun("run-1"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	s.image = testPNG(s.T())
}

func (s *AssessorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 20), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func melanomaPrediction() *lesion.Prediction {
	p, _ := classifier.NewPrediction([]float64{0, 0, 0, 0, 0.8, 0.2, 0})
	return p
}

func (s *AssessorSuite) TestNew() {
	_, err := New(nil, s.predictor)
	s.Error(err)
	_, err = New(imaging.NewPreprocessor(8), nil)
	s.Error(err)
	a, err := New(imaging.NewPreprocessor(8), s.predictor, nil)
	s.NoError(err)
	s.NotNil(a)
}

func (s *AssessorSuite) TestEndToEnd() {
	s.predictor.EXPECT().Predict(gomock.Any()).DoAndReturn(func(x *tensor.Tensor) (*lesion.Prediction, error) {
		s.Equal(tensor.Shape{Height: 8, Width: 8, Channels: 3}, x.Shape)
		return melanomaPrediction(), nil
	})
	s.recorder.EXPECT().SaveAssessment(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, a *data.Assessment) error {
		s.Equal("run-1", a.ModelRun)
		s.Equal("mel", a.Predicted)
		s.Equal("high", a.Fusion.RiskTier)
		a.ID = "saved-id"
		return nil
	})
	s.observer.EXPECT().ObserveAssessment("high", gomock.Any())

	res, err := s.assessor.Assess(context.Background(), Request{
		Image:    s.image,
		Symptoms: lesion.Symptoms{Duration: "1 month", Pain: 1, Bleeding: 1},
	})
	s.Require().NoError(err)
	s.Equal("saved-id", res.ID)
	s.InDelta(0.78, res.ImageScore, 1e-12)
	s.InDelta(0.7, res.SymptomScore, 1e-12)
	s.InDelta(0.748, res.GlobalScore, 1e-12)
	s.Equal("high", res.RiskTier)
	s.Equal("advise urgent dermatological consultation", res.Recommendation)
	s.Equal("mel", res.Predicted)
	s.Equal("Melanoma", res.Label)
	s.Equal(0.8, res.Confidence)
	s.Len(res.Probabilities, lesion.Count)
	s.Equal(0.2, res.Probabilities["nv"])
}

func (s *AssessorSuite) TestImagePath() {
	path := filepath.Join(s.T().TempDir(), "lesion.png")
	s.Require().NoError(os.WriteFile(path, s.image, 0600))

	s.predictor.EXPECT().Predict(gomock.Any()).Return(melanomaPrediction(), nil)
	s.recorder.EXPECT().SaveAssessment(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, a *data.Assessment) error {
		s.Equal(path, a.ImagePath)
		return nil
	})
	s.observer.EXPECT().ObserveAssessment("moderate", gomock.Any())

	res, err := s.assessor.Assess(context.Background(), Request{ImagePath: path})
	s.Require().NoError(err)
	s.InDelta(0.468, res.GlobalScore, 1e-12)
	s.Equal("moderate", res.RiskTier)
}

func (s *AssessorSuite) TestInvalidSymptomsShortCircuit() {
	s.observer.EXPECT().ObserveFailure("validate")

	_, err := s.assessor.Assess(context.Background(), Request{
		Image:    s.image,
		Symptoms: lesion.Symptoms{Pain: 2},
	})
	s.ErrorIs(err, lesion.ErrValidation)

	var verr *lesion.ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Equal("pain", verr.Field)
}

func (s *AssessorSuite) TestMissingImage() {
	s.observer.EXPECT().ObserveFailure("preprocess")
	_, err := s.assessor.Assess(context.Background(), Request{})
	s.ErrorIs(err, lesion.ErrValidation)
}

func (s *AssessorSuite) TestUndecodableImage() {
	s.observer.EXPECT().ObserveFailure("preprocess")
	_, err := s.assessor.Assess(context.Background(), Request{Image: []byte("not an image")})
	s.ErrorIs(err, imaging.ErrDecode)
}

func (s *AssessorSuite) TestPredictorFailure() {
	s.predictor.EXPECT().Predict(gomock.Any()).Return(nil, tensor.ErrShapeMismatch)
	s.observer.EXPECT().ObserveFailure("predict")

	_, err := s.assessor.Assess(context.Background(), Request{Image: s.image})
	s.ErrorIs(err, tensor.ErrShapeMismatch)
}

func (s *AssessorSuite) TestNonFiniteImageScore() {
	pred := melanomaPrediction()
	pred.RiskScore = math.NaN()
	s.predictor.EXPECT().Predict(gomock.Any()).Return(pred, nil)
	s.observer.EXPECT().ObserveFailure("predict")

	res, err := s.assessor.Assess(context.Background(), Request{Image: s.image})
	s.ErrorIs(err, scoring.ErrNonFiniteScore)
	s.Nil(res)
}

func (s *AssessorSuite) TestResponseJSON() {
	res := &Response{
		Fusion:    scoring.Assess(0.78, lesion.Symptoms{Pain: 1, Bleeding: 1}),
		Predicted: "mel",
	}
	b, err := json.Marshal(res)
	s.Require().NoError(err)

	var m map[string]any
	s.Require().NoError(json.Unmarshal(b, &m))
	for _, key := range []string{
		"image_score", "symptom_score", "global_score", "risk_tier",
		"recommendation_text", "per_category_probabilities",
	} {
		s.Contains(m, key)
	}
	s.NotContains(m, "recommendation")
	s.Equal("advise urgent dermatological consultation", m["recommendation_text"])
}

func (s *AssessorSuite) TestRecorderFailure() {
	boom := errors.New("boom")
	s.predictor.EXPECT().Predict(gomock.Any()).Return(melanomaPrediction(), nil)
	s.recorder.EXPECT().SaveAssessment(gomock.Any(), gomock.Any()).Return(boom)
	s.observer.EXPECT().ObserveFailure("record")

	res, err := s.assessor.Assess(context.Background(), Request{Image: s.image})
	s.ErrorIs(err, boom)
	s.Nil(res)
}

func (s *AssessorSuite) TestWithoutRecorder() {
	a, err := New(imaging.NewPreprocessor(8), s.predictor)
	s.Require().NoError(err)
	s.predictor.EXPECT().Predict(gomock.Any()).Return(melanomaPrediction(), nil)

	res, err := a.Assess(context.Background(), Request{Image: s.image})
	s.Require().NoError(err)
	s.Empty(res.ID)
	s.Equal("moderate", res.RiskTier)
}
