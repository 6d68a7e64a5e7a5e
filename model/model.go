// Package model implements a multi-layer recurrent
// language model which predicts the next token of a
// sequence.
package model

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	rnnlstm "github.com/yunsangq/tensorflow-rnn-lstm"
	"github.com/yunsangq/tensorflow-rnn-lstm/cell"
	"github.com/yunsangq/tensorflow-rnn-lstm/optim"
)

func init() {
	var m Model
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
}

// A Batch stores token ids for a training step.
// Inputs[i][t] is the t-th input of sequence i, and
// Targets[i][t] is the token which should follow it.
type Batch struct {
	Inputs  [][]int
	Targets [][]int
}

// A Graph stores the results of a forward pass.
type Graph struct {
	// Logits is a packed (batch*seq)-by-vocab matrix, where
	// row i*seq+t corresponds to step t of sequence i.
	Logits anyvec.Vector

	// Probs has the same layout as Logits.
	Probs anyvec.Vector

	// Cost is the mean cross-entropy over every position.
	Cost anydiff.Res

	// FinalState is the state after the last step.
	FinalState cell.State
}

// Model is a recurrent language model.
//
// Every layer maps HiddenSize inputs to HiddenSize
// outputs, since the embedding size is the hidden size.
type Model struct {
	Config Config

	Embedding *rnnlstm.Embedding
	Layers    []cell.Block
	Softmax   *rnnlstm.Softmax

	// Log receives construction details and warnings.
	// If nil, the logrus standard logger is used.
	Log logrus.FieldLogger

	stack        cell.Stack
	inputDropout *rnnlstm.Dropout
	clip         *optim.ClipNorm
	adam         *optim.Adam
	learningRate float64
}

// New creates a randomly initialized Model.
//
// If infer is true, the inference overrides of
// Config.Inference are applied before anything else.
// An invalid config yields a *ConfigError.
func New(c anyvec.Creator, cfg Config, infer bool) (*Model, error) {
	if infer {
		cfg = cfg.Inference()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, _ := cfg.Kind()
	layers := make([]cell.Block, cfg.NumLayers)
	for i := range layers {
		layers[i] = cell.New(kind, c, cfg.HiddenSize, cfg.HiddenSize)
	}
	m := &Model{
		Config:       cfg,
		Embedding:    rnnlstm.NewEmbedding(c, cfg.VocabSize, cfg.HiddenSize),
		Layers:       layers,
		Softmax:      rnnlstm.NewSoftmax(c, cfg.HiddenSize, cfg.VocabSize),
		learningRate: cfg.LearningRate,
	}
	m.assemble()
	return m, nil
}

// assemble builds the derived training structures from
// the config and the parameters.
func (m *Model) assemble() {
	m.stack = make(cell.Stack, len(m.Layers))
	for i, l := range m.Layers {
		if m.Config.KeepProb < 1 {
			m.stack[i] = cell.NewDropout(l, m.Config.KeepProb)
		} else {
			m.stack[i] = l
		}
	}
	m.inputDropout = &rnnlstm.Dropout{
		Enabled:  m.Config.KeepProb < 1 && !m.Config.LegacyInputDropout,
		KeepProb: m.Config.KeepProb,
	}
	m.clip = &optim.ClipNorm{MaxNorm: m.Config.GradClip}
	m.adam = &optim.Adam{}

	log := m.logger()
	log.WithFields(logrus.Fields{
		"cell":   m.Config.Cell,
		"layers": len(m.Layers),
		"hidden": m.Config.HiddenSize,
		"vocab":  m.Config.VocabSize,
	}).Debug("built model")
	if m.Config.KeepProb < 1 {
		log.WithFields(logrus.Fields{
			"keep_prob":            m.Config.KeepProb,
			"legacy_input_dropout": m.Config.LegacyInputDropout,
		}).Warn("input dropout differs between legacy and corrected graphs")
	}
}

// Inference returns a Model for sampling which shares
// this model's parameters.
func (m *Model) Inference() *Model {
	res := &Model{
		Config:       m.Config.Inference(),
		Embedding:    m.Embedding,
		Layers:       m.Layers,
		Softmax:      m.Softmax,
		Log:          m.Log,
		learningRate: m.learningRate,
	}
	res.assemble()
	return res
}

// LearningRate returns the current learning rate.
func (m *Model) LearningRate() float64 {
	return m.learningRate
}

// SetLearningRate changes the learning rate used by
// subsequent calls to Train.
func (m *Model) SetLearningRate(r float64) {
	m.learningRate = r
}

// ScheduleLearningRate sets the learning rate to the rate
// r gives for an epoch, for example an optim.ExpRater for
// exponential decay.
func (m *Model) ScheduleLearningRate(r optim.Rater, epoch float64) {
	m.SetLearningRate(r.Rate(epoch))
}

// LastGradNorm returns the global gradient norm of the
// most recent training step, measured before clipping.
func (m *Model) LastGradNorm() float64 {
	return m.clip.LastNorm
}

// Optimizer returns the Adam instance used by Train.
func (m *Model) Optimizer() *optim.Adam {
	return m.adam
}

// Start produces a zero state for Config.BatchSize
// sequences.
func (m *Model) Start() cell.State {
	return m.StartN(m.Config.BatchSize)
}

// StartN produces a zero state for n sequences.
func (m *Model) StartN(n int) cell.State {
	return m.stack.Start(n)
}

// Parameters returns every trainable parameter: the
// embedding, then every layer from the bottom up, then the
// softmax weights and biases.
func (m *Model) Parameters() []*anydiff.Var {
	objs := []interface{}{m.Embedding}
	for _, l := range m.Layers {
		objs = append(objs, l)
	}
	objs = append(objs, m.Softmax)
	return rnnlstm.AllParameters(objs...)
}

// NamedParameters maps hierarchical names to parameters.
func (m *Model) NamedParameters() map[string]*anydiff.Var {
	res := map[string]*anydiff.Var{
		"rnn/embedding": m.Embedding.Vectors,
		"rnn/softmax_w": m.Softmax.Weights,
		"rnn/softmax_b": m.Softmax.Biases,
	}
	for i, l := range m.Layers {
		prefix := fmt.Sprintf("rnn/multi_rnn_cell/cell_%d/", i)
		switch l := l.(type) {
		case *cell.Vanilla:
			prefix += "basic_rnn_cell/"
			res[prefix+"input_weights"] = l.InputWeights
			res[prefix+"state_weights"] = l.StateWeights
			res[prefix+"biases"] = l.Biases
		case *cell.LSTM:
			prefix += "basic_lstm_cell/"
			gates := []struct {
				name string
				gate *cell.LSTMGate
			}{
				{"in_value", l.InValue},
				{"input_gate", l.In},
				{"forget_gate", l.Remember},
				{"output_gate", l.Output},
			}
			for _, g := range gates {
				res[prefix+g.name+"/input_weights"] = g.gate.InputWeights
				res[prefix+g.name+"/state_weights"] = g.gate.StateWeights
				res[prefix+g.name+"/biases"] = g.gate.Biases
			}
		default:
			panic(fmt.Sprintf("unsupported layer type: %T", l))
		}
	}
	return res
}

// Forward builds the training graph for a batch.
//
// If start is nil, a zero state is used.
// It panics if the batch is empty or ragged, or if the
// inputs and targets have different shapes.
func (m *Model) Forward(b *Batch, start cell.State) *Graph {
	n, seqLen := batchShape(b)
	if start == nil {
		start = m.StartN(n)
	} else if len(start.Present()) != n {
		panic(fmt.Sprintf("state batch size %d does not match %d", len(start.Present()), n))
	}
	c := m.Embedding.Vectors.Vector.Creator()

	inputs := make([]*anyseq.ResBatch, seqLen)
	for t := range inputs {
		emb := m.Embedding.Lookup(column(b.Inputs, t))
		inputs[t] = &anyseq.ResBatch{
			Packed:  m.inputDropout.Apply(emb, n),
			Present: cell.AllPresent(n),
		}
	}
	outputs, final := cell.Unroll(anyseq.ResSeq(c, inputs), m.stack, start)

	costFunc := &rnnlstm.Weighted{
		Weights: ones(n),
		Wrapped: rnnlstm.CrossEntropy{},
	}
	stepLogits := make([]anyvec.Vector, 0, seqLen)
	var idx int
	costs := anyseq.Map(outputs, func(out anydiff.Res, batch int) anydiff.Res {
		logits := m.Softmax.Logits(out, batch)
		stepLogits = append(stepLogits, logits.Output())
		targets := rnnlstm.OneHot(c, column(b.Targets, idx), m.Config.VocabSize)
		idx++
		logProbs := rnnlstm.LogSoftmax.Apply(logits, batch)
		return costFunc.Cost(anydiff.NewConst(targets), logProbs, batch)
	})
	total := anydiff.Sum(anyseq.Sum(costs))
	cost := anydiff.Scale(total, c.MakeNumeric(1/float64(n*seqLen)))

	logits := batchMajor(stepLogits, n, m.Config.VocabSize)
	return &Graph{
		Logits:     logits,
		Probs:      m.Softmax.Probs(logits),
		Cost:       cost,
		FinalState: final,
	}
}

// Train performs one training step on a batch.
//
// The gradient of the mean cost is clipped to the global
// norm Config.GradClip, transformed by Adam, and applied at
// the current learning rate.
// It returns the cost before the update and the final
// state, which may be used to start the next batch.
func (m *Model) Train(b *Batch, start cell.State) (float64, cell.State) {
	graph := m.Forward(b, start)
	grad := anydiff.NewGrad(m.Parameters()...)
	c := graph.Cost.Output().Creator()
	graph.Cost.Propagate(c.MakeVectorData(c.MakeNumericList([]float64{1})), grad)
	optim.Step(grad, optim.Chain{m.clip, m.adam}, m.learningRate)
	return rnnlstm.Floats(graph.Cost.Output())[0], graph.FinalState
}

// Step feeds a single token through the model.
// It returns the probability of every next token and the
// new state.
// If s is nil, a zero state is used.
//
// Dropout is never applied by Step.
func (m *Model) Step(s cell.State, token int) ([]float64, cell.State) {
	probs, state := m.StepBatch(s, []int{token})
	return rnnlstm.Floats(probs), state
}

// StepBatch is like Step, but for a batch of tokens.
// The probabilities are packed with one row per token.
func (m *Model) StepBatch(s cell.State, tokens []int) (anyvec.Vector, cell.State) {
	res := m.stepOutput(s, tokens)
	logits := m.Softmax.Logits(anydiff.NewConst(res.Output()), len(tokens))
	return m.Softmax.Probs(logits.Output()), res.State()
}

// Feedback maps a packed batch of top-layer outputs to the
// most likely next token for each row.
// No gradient flows through the selection.
func (m *Model) Feedback(out anyvec.Vector) []int {
	n := out.Len() / m.Config.HiddenSize
	logits := rnnlstm.Floats(m.Softmax.Logits(anydiff.NewConst(out), n).Output())
	vocab := m.Config.VocabSize
	res := make([]int, n)
	for i := range res {
		res[i] = argMax(logits[i*vocab : (i+1)*vocab])
	}
	return res
}

// Decode runs the model for a number of steps, feeding
// every predicted token back in as the next input.
//
// The first input is the token first.
// It returns the predicted tokens and the final state.
func (m *Model) Decode(s cell.State, first, steps int) ([]int, cell.State) {
	var res []int
	token := first
	for i := 0; i < steps; i++ {
		out := m.stepOutput(s, []int{token})
		token = m.Feedback(out.Output())[0]
		res = append(res, token)
		s = out.State()
	}
	return res, s
}

func (m *Model) stepOutput(s cell.State, tokens []int) cell.Res {
	layers := cell.Stack(m.Layers)
	if s == nil {
		s = layers.Start(len(tokens))
	}
	emb := m.Embedding.Lookup(tokens)
	return layers.Step(s, emb.Output())
}

// SerializerType returns the unique ID used to serialize
// a Model with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/yunsangq/tensorflow-rnn-lstm/model.Model"
}

// Serialize serializes the config, the parameters, and
// the current learning rate.
func (m *Model) Serialize() ([]byte, error) {
	legacy := serializer.Int(0)
	if m.Config.LegacyInputDropout {
		legacy = 1
	}
	return serializer.SerializeAny(
		serializer.String(m.Config.Cell),
		serializer.Int(m.Config.HiddenSize),
		serializer.Int(m.Config.VocabSize),
		serializer.Int(m.Config.BatchSize),
		serializer.Int(m.Config.SeqLength),
		serializer.Float64(m.Config.KeepProb),
		serializer.Float64(m.Config.GradClip),
		serializer.Float64(m.Config.LearningRate),
		legacy,
		serializer.Float64(m.learningRate),
		m.Embedding,
		cell.Stack(m.Layers),
		m.Softmax,
	)
}

// DeserializeModel deserializes a Model.
//
// It fails if the parameters do not fit the stored config.
func DeserializeModel(d []byte) (*Model, error) {
	var cellName serializer.String
	var hidden, vocab, batch, seqLen, legacy serializer.Int
	var keepProb, gradClip, initRate, rate serializer.Float64
	var emb *rnnlstm.Embedding
	var layers cell.Stack
	var softmax *rnnlstm.Softmax
	err := serializer.DeserializeAny(d, &cellName, &hidden, &vocab, &batch, &seqLen,
		&keepProb, &gradClip, &initRate, &legacy, &rate, &emb, &layers, &softmax)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	cfg := Config{
		Cell:               string(cellName),
		HiddenSize:         int(hidden),
		NumLayers:          len(layers),
		VocabSize:          int(vocab),
		BatchSize:          int(batch),
		SeqLength:          int(seqLen),
		KeepProb:           float64(keepProb),
		GradClip:           float64(gradClip),
		LearningRate:       float64(initRate),
		LegacyInputDropout: legacy == 1,
	}
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	if err := checkShapes(cfg, emb, []cell.Block(layers), softmax); err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	m := &Model{
		Config:       cfg,
		Embedding:    emb,
		Layers:       layers,
		Softmax:      softmax,
		learningRate: float64(rate),
	}
	m.assemble()
	return m, nil
}

// checkShapes verifies that every parameter has the size
// and the cell kind that cfg describes.
func checkShapes(cfg Config, emb *rnnlstm.Embedding, layers []cell.Block,
	softmax *rnnlstm.Softmax) error {
	if emb.VocabSize != cfg.VocabSize || softmax.VocabSize != cfg.VocabSize {
		return fmt.Errorf("vocabulary size mismatch: embedding %d, softmax %d, config %d",
			emb.VocabSize, softmax.VocabSize, cfg.VocabSize)
	}
	if emb.Size != cfg.HiddenSize || softmax.InCount != cfg.HiddenSize {
		return fmt.Errorf("hidden size mismatch: embedding %d, softmax %d, config %d",
			emb.Size, softmax.InCount, cfg.HiddenSize)
	}
	kind, _ := cfg.Kind()
	for i, l := range layers {
		var in, out int
		switch l := l.(type) {
		case *cell.Vanilla:
			if kind != cell.Plain {
				return fmt.Errorf("layer %d: expected %s cell but got %T", i, kind, l)
			}
			in, out = l.InCount, l.OutCount
		case *cell.LSTM:
			if kind != cell.LSTMKind {
				return fmt.Errorf("layer %d: expected %s cell but got %T", i, kind, l)
			}
			in = l.InValue.InputWeights.Vector.Len() / l.StateSize()
			out = l.StateSize()
		default:
			return fmt.Errorf("layer %d: unsupported layer type: %T", i, l)
		}
		if in != cfg.HiddenSize || out != cfg.HiddenSize {
			return fmt.Errorf("layer %d: expected %d->%d but got %d->%d", i,
				cfg.HiddenSize, cfg.HiddenSize, in, out)
		}
	}
	return nil
}

func (m *Model) logger() logrus.FieldLogger {
	if m.Log != nil {
		return m.Log
	}
	return logrus.StandardLogger()
}

func batchShape(b *Batch) (n, seqLen int) {
	n = len(b.Inputs)
	if n == 0 || len(b.Targets) != n {
		panic("batch must have matching, non-empty inputs and targets")
	}
	seqLen = len(b.Inputs[0])
	if seqLen == 0 {
		panic("batch sequences must not be empty")
	}
	for i := range b.Inputs {
		if len(b.Inputs[i]) != seqLen || len(b.Targets[i]) != seqLen {
			panic("batch sequences must all have the same length")
		}
	}
	return
}

func column(rows [][]int, t int) []int {
	res := make([]int, len(rows))
	for i, row := range rows {
		res[i] = row[t]
	}
	return res
}

// batchMajor interleaves per-step logits so that row
// i*seqLen+t holds step t of sequence i.
func batchMajor(steps []anyvec.Vector, n, vocab int) anyvec.Vector {
	c := steps[0].Creator()
	var rows []anyvec.Vector
	for i := 0; i < n; i++ {
		for _, step := range steps {
			rows = append(rows, step.Slice(i*vocab, (i+1)*vocab))
		}
	}
	return c.Concat(rows...)
}

func ones(n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = 1
	}
	return res
}

func argMax(v []float64) int {
	var maxIdx int
	for i, x := range v {
		if x > v[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}
