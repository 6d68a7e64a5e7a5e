package rnnlstm

import (
	"errors"
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var e Embedding
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEmbedding)
}

// An Embedding maps token ids to learned dense vectors.
//
// Vectors is a row-major VocabSize x Size matrix, where
// row i is the vector for token i.
type Embedding struct {
	VocabSize int
	Size      int
	Vectors   *anydiff.Var
}

// DeserializeEmbedding deserializes an Embedding.
func DeserializeEmbedding(d []byte) (*Embedding, error) {
	var size serializer.Int
	var vecs *anyvecsave.S
	if err := serializer.DeserializeAny(d, &size, &vecs); err != nil {
		return nil, essentials.AddCtx("deserialize Embedding", err)
	}
	if size <= 0 || vecs.Vector.Len()%int(size) != 0 {
		return nil, errors.New("deserialize Embedding: invalid matrix dimensions")
	}
	return &Embedding{
		VocabSize: vecs.Vector.Len() / int(size),
		Size:      int(size),
		Vectors:   anydiff.NewVar(vecs.Vector),
	}, nil
}

// NewEmbedding creates an Embedding with normally
// distributed vectors.
func NewEmbedding(c anyvec.Creator, vocabSize, size int) *Embedding {
	res := &Embedding{
		VocabSize: vocabSize,
		Size:      size,
		Vectors:   anydiff.NewVar(c.MakeVector(vocabSize * size)),
	}
	anyvec.Rand(res.Vectors.Vector, anyvec.Normal, nil)
	return res
}

// Lookup produces a batch with one embedded vector per
// token id.
//
// The lookup is a product between one-hot rows and the
// embedding matrix, so gradients only reach the rows of
// the tokens that were looked up.
func (e *Embedding) Lookup(ids []int) anydiff.Res {
	c := e.Vectors.Vector.Creator()
	return e.Apply(anydiff.NewConst(OneHot(c, ids, e.VocabSize)), len(ids))
}

// Apply treats a packed batch of one-hot vectors as the
// input and embeds each of them.
func (e *Embedding) Apply(in anydiff.Res, batch int) anydiff.Res {
	if batch*e.VocabSize != in.Output().Len() {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			batch*e.VocabSize, in.Output().Len()))
	}
	inMat := &anydiff.Matrix{Data: in, Rows: batch, Cols: e.VocabSize}
	table := &anydiff.Matrix{Data: e.Vectors, Rows: e.VocabSize, Cols: e.Size}
	return anydiff.MatMul(false, false, inMat, table).Data
}

// Parameters returns the embedding matrix.
func (e *Embedding) Parameters() []*anydiff.Var {
	return []*anydiff.Var{e.Vectors}
}

// SerializerType returns the unique ID used to serialize
// an Embedding with the serializer package.
func (e *Embedding) SerializerType() string {
	return "github.com/yunsangq/tensorflow-rnn-lstm.Embedding"
}

// Serialize serializes the Embedding.
func (e *Embedding) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(e.Size),
		&anyvecsave.S{Vector: e.Vectors.Vector},
	)
}
