package rtmpose

import "fmt"

// neck 在扩展后的 COCO 数组中的位置
const neckIndex = NumCOCOKeyPoints

// openPoseSource OpenPose 第 i 个点来自扩展 COCO 数组的位置 (17 为 neck)
var openPoseSource = [NumOpenPoseKeyPoints]int{
	0,  // nose
	17, // neck
	6,  // right shoulder
	8,  // right elbow
	10, // right wrist
	5,  // left shoulder
	7,  // left elbow
	9,  // left wrist
	12, // right hip
	14, // right knee
	16, // right ankle
	11, // left hip
	13, // left knee
	15, // left ankle
	2,  // right eye
	1,  // left eye
	4,  // right ear
	3,  // left ear
}

// neckScoreThreshold 双肩置信度均超过该值时 neck 置信度为 1
const neckScoreThreshold = 0.3

// ToOpenPose 把 COCO 17 点转为 OpenPose 18 点
//
// neck 为左右肩中点, 置信度为 0 或 1.
func ToOpenPose(kpts [][][2]float32, scores [][]float32) ([][][2]float32, [][]float32, error) {
	if len(kpts) != len(scores) {
		return nil, nil, fmt.Errorf("%w: 关键点 %d 行, 置信度 %d 行", ErrShapeMismatch, len(kpts), len(scores))
	}

	outKpts := make([][][2]float32, len(kpts))
	outScores := make([][]float32, len(scores))
	for i := range kpts {
		if len(kpts[i]) != NumCOCOKeyPoints || len(scores[i]) != NumCOCOKeyPoints {
			return nil, nil, fmt.Errorf("%w: 需要 %d 个 COCO 关键点, 实际 %d", ErrShapeMismatch, NumCOCOKeyPoints, len(kpts[i]))
		}

		ext := make([][2]float32, NumCOCOKeyPoints+1)
		extScores := make([]float32, NumCOCOKeyPoints+1)
		copy(ext, kpts[i])
		copy(extScores, scores[i])

		ls, rs := kpts[i][5], kpts[i][6]
		ext[neckIndex] = [2]float32{(ls[0] + rs[0]) / 2, (ls[1] + rs[1]) / 2}
		if scores[i][5] > neckScoreThreshold && scores[i][6] > neckScoreThreshold {
			extScores[neckIndex] = 1
		}

		outKpts[i] = make([][2]float32, NumOpenPoseKeyPoints)
		outScores[i] = make([]float32, NumOpenPoseKeyPoints)
		for dst, src := range openPoseSource {
			outKpts[i][dst] = ext[src]
			outScores[i][dst] = extScores[src]
		}
	}
	return outKpts, outScores, nil
}
