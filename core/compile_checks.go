package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ AdminService     = (*Service)(nil)
	_ DerivationPolicy = FlagDerivationPolicy{}
	_ DerivationPolicy = DerivationPolicyFunc(nil)
	_ Extractor        = ExtractorFunc(nil)
	_ DeliveryObserver = DeliveryObserverFunc(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
