package edr_test

import (
	"context"
	"fmt"
	"log"

	"github.com/crimson-sun/edrdash/pkg/edr"
)

func Example() {
	d, err := edr.New(edr.WithModelPath("../../models/model.json"))
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()

	// Without input the bundled sample dataset is classified.
	res, err := d.Detect(context.Background(), nil)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%d rows from %s (%s)\n", res.Rows, res.Source, res.Fallback)
	for _, tc := range res.TagCounts {
		fmt.Printf("%d\t%s\n", tc.Count, tc.Tag)
	}
	// Output:
	// 40 rows from sample (absent)
	// 29	Normal Activity
	// 6	DoS → Resource Exhaustion
	// 4	Generic → Unknown Signature
	// 1	Unclassified or No Attack Info
}
