// Package rtspcore is an RTSP client session engine. It registers a
// session with a streaming unit over a proprietary UDP handshake,
// drives the RTSP/1.0 control ladder (OPTIONS, DESCRIBE, SETUP, PLAY,
// PAUSE, TEARDOWN), negotiates codecs over SDP, receives the RTP
// transport stream, reassembles it into ordered segment files and
// hands the recording to an external transcoder.
//
// The entry point is ClientContext, which owns the single active
// session and all of its channels:
//
//	cfg, err := config.Load("rtspcore.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg.ApplyLogLevel()
//
//	client := rtspcore.NewClientContext(cfg, nil)
//	client.OnNotify = func(n rtspcore.Notification) {
//		log.Printf("session: %s", n)
//	}
//
//	if err := client.Register("/media/sample.ts"); err != nil {
//		log.Fatal(err)
//	}
//	// once registered:
//	if err := client.Open(); err != nil {
//		log.Fatal(err)
//	}
//
// The engine drives one session at a time. All control-plane work is
// strictly sequential request/response; media ingestion and segment
// assembly run on their own goroutines and never block the network
// receive path.
package rtspcore
