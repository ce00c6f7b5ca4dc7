// Package edr classifies network event records with a trained tree
// ensemble, maps each prediction to a MITRE ATT&CK technique and explains
// the predictions with SHAP feature importance.
//
// Quick start:
//
//	d, err := edr.New(edr.WithModelPath("models/model.json"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close()
//
//	f, _ := os.Open("events.csv")
//	res, _ := d.Detect(ctx, f)
//	fmt.Println(res.TagCounts[0].Tag, res.TagCounts[0].Count)
//
// A Detector is safe for concurrent use. Create once, reuse across
// requests.
package edr
