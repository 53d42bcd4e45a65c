package safe

import (
	"math/rand"
	"sync"

	"github.com/pombredanne/pol-1/elgamal"
)

// deterministicRandFunc returns a RandFunc backed by a seeded PRNG, so
// the random draws behind slice allocation, shuffling and IV generation
// come from a fixed seed. Which indices NewSlice draws still varies from
// run to run, since its pool is built in map iteration order. It must
// never be used outside tests.
func deterministicRandFunc(seed int64) RandFunc {
	r := rand.New(rand.NewSource(seed))
	var mu sync.Mutex
	return func(n int) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		buf := make([]byte, n)
		r.Read(buf)
		return buf, nil
	}
}

var (
	testGroupParamsOnce sync.Once
	testGroupParamsVal  elgamal.GroupParams
)

// testGroupParams returns a small (but large enough to hold the test
// suite's bytesPerBlock) set of group parameters, computed once per test
// binary run since a safe-prime search is the most expensive step in
// building a usable Safe.
func testGroupParams() elgamal.GroupParams {
	testGroupParamsOnce.Do(func() {
		gp, err := elgamal.GenerateGroupParams(192, 0, nil)
		if err != nil {
			panic(err)
		}
		testGroupParamsVal = gp
	})
	return testGroupParamsVal
}

const (
	testNBlocks        = 24
	testBytesPerBlock  = 20
	testBlockIndexSize = 1
	testSliceSize      = 2
)

func newTestSafe() (*Safe, error) {
	gp := testGroupParams()
	s, err := Generate(GenerateOptions{
		NBlocks:        testNBlocks,
		BytesPerBlock:  testBytesPerBlock,
		BlockIndexSize: testBlockIndexSize,
		SliceSize:      testSliceSize,
		GroupParams:    &gp,
	})
	if err != nil {
		return nil, err
	}
	s.SetRandFunc(deterministicRandFunc(1))
	return s, nil
}
