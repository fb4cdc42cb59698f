package loader

import "fmt"

// Checkpoint tensor names. The bidirectional LM stack, the character table
// and the CNN embedder use the dataset paths of the original TensorFlow
// checkpoints; the tensors of the LSTM variants are stored in runtime layout.
const (
	CharEmbedName   = "char_embed"
	ProjWeightName  = "CNN_proj/W_proj"
	ProjBiasName    = "CNN_proj/b_proj"
	WordEmbedName   = "word_embed"
	CharLSTMPrefix  = "char_lstm"
	EncoderLSTMName = "encoder_lstm"
)

// CellTensorName names a tensor of the cell of one direction (0 forward,
// 1 backward) and layer. leaf is W_0, B or W_P_0.
func CellTensorName(direction, layer int, leaf string) string {
	return fmt.Sprintf("RNN_%d/RNN/MultiRNNCell/Cell%d/LSTMCell/%s", direction, layer, leaf)
}

// ConvWeightName names the weight of character filter i.
func ConvWeightName(i int) string {
	return fmt.Sprintf("CNN/W_cnn_%d", i)
}

// ConvBiasName names the bias of character filter i.
func ConvBiasName(i int) string {
	return fmt.Sprintf("CNN/b_cnn_%d", i)
}

// HighwayName names a tensor of highway layer k. leaf is W_transform,
// b_transform, W_carry or b_carry.
func HighwayName(k int, leaf string) string {
	return fmt.Sprintf("CNN_high_%d/%s", k, leaf)
}

// EncoderLSTMPrefix is the prefix of one direction of a plain LSTM encoder
// layer.
func EncoderLSTMPrefix(layer int, backward bool) string {
	dir := "forward"
	if backward {
		dir = "backward"
	}
	return fmt.Sprintf("%s/layer%d/%s", EncoderLSTMName, layer, dir)
}

// CharLSTMDirection is the prefix of one direction of the character LSTM.
func CharLSTMDirection(backward bool) string {
	if backward {
		return CharLSTMPrefix + "/backward"
	}
	return CharLSTMPrefix + "/forward"
}
