package testsupport

// COCOClasses is the 80-class detector taxonomy in model output order.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck",
	"boat", "traffic light", "fire hydrant", "stop sign", "parking meter", "bench",
	"bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra",
	"giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup",
	"fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear",
	"hair drier", "toothbrush",
}

// VOCSplit1 is the 20-class domain taxonomy in split-1 order: the first 15
// names are training classes and the last 5 are held out.
var VOCSplit1 = []string{
	"aeroplane", "bicycle", "boat", "bottle", "car", "cat", "chair", "diningtable",
	"dog", "horse", "person", "pottedplant", "sheep", "train", "tvmonitor",
	"bird", "bus", "cow", "motorbike", "sofa",
}
